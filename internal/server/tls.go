package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	devCertFile = "dev_cert.pem"
	devKeyFile  = "dev_key.pem"

	// 浏览器对 serverCertificateHashes 之外的自签证书要求有效期不超过 14 天
	devCertTTL = 10 * 24 * time.Hour
)

func newTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "webtransport"},
		MinVersion:   tls.VersionTLS13,
	}
}

// devTLSConfig 加载或铸造本地开发用的自签证书
// 生产部署必须在配置里给出正式证书，这条路径只兜底本机调试
func devTLSConfig(logger *slog.Logger) (*tls.Config, error) {
	if cert, err := tls.LoadX509KeyPair(devCertFile, devKeyFile); err == nil {
		if leaf, perr := x509.ParseCertificate(cert.Certificate[0]); perr == nil && time.Now().Before(leaf.NotAfter) {
			logger.Info("Loaded existing dev certificate", "cert", devCertFile, "not_after", leaf.NotAfter)
			return newTLSConfig(cert), nil
		}
		logger.Info("Dev certificate expired, regenerating")
	}

	cert, err := mintDevCert()
	if err != nil {
		return nil, fmt.Errorf("mint dev certificate: %w", err)
	}

	logger.Info("Dev certificate saved", "cert", devCertFile, "key", devKeyFile)
	return newTLSConfig(cert), nil
}

// mintDevCert 生成 ECDSA P-256 自签证书并落盘，供下次启动复用
func mintDevCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"sudooom dm dev"},
		},
		// 适当回拨生效时间，避免本机时钟偏差导致握手失败
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(devCertTTL),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(devCertFile, certPEM, 0644); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(devKeyFile, keyPEM, 0600); err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
