package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"sudooom.social.dm/internal/config"
	"sudooom.social.dm/internal/connection"
	"sudooom.social.dm/internal/handler"
	"sudooom.social.dm/internal/metrics"
	"sudooom.social.dm/internal/nats"
)

// Server WebTransport 实时网关
type Server struct {
	cfg              *config.Config
	logger           *slog.Logger
	connMgr          *connection.Manager
	handler          *handler.Handler
	natsClient       *nats.Client
	subscriber       *nats.DownstreamSubscriber
	wtServer         *webtransport.Server
	heartbeatChecker *connection.HeartbeatChecker
	wg               sync.WaitGroup
}

func New(
	cfg *config.Config,
	connMgr *connection.Manager,
	h *handler.Handler,
	natsClient *nats.Client,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		connMgr:    connMgr,
		handler:    h,
		natsClient: natsClient,
	}
}

func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.loadTLSConfig()
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        s.cfg.QUIC.MaxIdleTimeout,
		KeepAlivePeriod:       s.cfg.QUIC.KeepAlivePeriod,
		MaxIncomingStreams:    s.cfg.QUIC.MaxIncomingStreams,
		MaxIncomingUniStreams: s.cfg.QUIC.MaxIncomingUniStreams,
		Allow0RTT:             s.cfg.QUIC.Allow0RTT,
		EnableDatagrams:       true, // WebTransport 需要启用数据报支持
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.Server.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: func(r *http.Request) bool {
			// TODO: 生产环境应该检查 Origin
			return true
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webtransport", func(w http.ResponseWriter, r *http.Request) {
		session, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, session)
	})

	s.wtServer.H3.Handler = mux

	// 订阅 NATS 下行消息（本节点主题 + 广播主题）
	s.subscriber = nats.NewDownstreamSubscriber(
		s.natsClient.Conn(),
		s.cfg.App.NodeID,
		s.handler,
		nats.SubscriberConfig{
			WorkerCount: s.cfg.Worker.Workers,
			BufferSize:  s.cfg.Worker.QueueSize,
		},
	)
	if err := s.subscriber.Start(ctx); err != nil {
		return err
	}

	// 启动心跳检测器，超时连接按正常断开处理（进入离线宽限期）
	s.heartbeatChecker = connection.NewHeartbeatChecker(
		s.connMgr,
		s.cfg.Server.HeartbeatTimeout,
		s.cfg.Server.HeartbeatCheckInterval,
		s.logger,
		func(conn *connection.Connection) {
			s.handler.OnDisconnect(ctx, conn)
		},
	)
	go s.heartbeatChecker.Start(ctx)

	s.logger.Info("WebTransport server starting", "addr", s.cfg.Server.Addr)

	return s.wtServer.ListenAndServe()
}

func (s *Server) handleSession(ctx context.Context, session *webtransport.Session) {
	defer s.wg.Done()

	c := connection.NewFromWebTransport(session, s.logger)
	s.connMgr.Add(c)
	metrics.ConnectionsActive.Inc()
	defer func() {
		metrics.ConnectionsActive.Dec()
		s.handler.OnDisconnect(ctx, c)
		s.connMgr.Remove(c.ID())
	}()

	// 首个 stream 必须是认证请求
	firstStream, err := session.AcceptStream(ctx)
	if err != nil {
		return
	}

	if err := s.handler.HandleFirstStream(ctx, c, firstStream); err != nil {
		s.logger.Warn("Auth failed, closing session", "conn_id", c.ID(), "error", err)
		if err := session.CloseWithError(4001, "auth failed"); err != nil {
			s.logger.Error("Failed to close session", "conn_id", c.ID(), "error", err)
		}
		return
	}

	// 认证成功后，同步处理首个流（阻塞直到流关闭）
	// 客户端只会使用这一个双向流进行所有通信
	s.handler.HandleStream(ctx, c, firstStream)

	// 流关闭后函数返回，触发 defer 中的清理逻辑
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	if s.cfg.QUIC.CertFile != "" && s.cfg.QUIC.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.QUIC.CertFile, s.cfg.QUIC.KeyFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded TLS certificate",
			"cert_file", s.cfg.QUIC.CertFile,
			"key_file", s.cfg.QUIC.KeyFile)
		return newTLSConfig(cert), nil
	}

	// 开发环境：生成自签名证书
	s.logger.Warn("No TLS certificate configured, using self-signed certificate")
	return devTLSConfig(s.logger)
}

// ConnManager 返回连接管理器
func (s *Server) ConnManager() *connection.Manager {
	return s.connMgr
}

func (s *Server) Shutdown() {
	if s.subscriber != nil {
		s.subscriber.Stop()
	}
	if s.wtServer != nil {
		s.wtServer.Close()
	}
	s.wg.Wait()
}
