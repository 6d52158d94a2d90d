package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const deliverMethod = "/grouplock.Transport/Deliver"

// PeerConfig describes how to reach one member of a static group.
type PeerConfig struct {
	// Address is the host:port the member's transport server listens on.
	Address string
}

// GRPCTransportOptions configures a GRPCTransport.
type GRPCTransportOptions struct {
	MaxRecvMsgSize     int           // Maximum gRPC receive message size in bytes
	MaxSendMsgSize     int           // Maximum gRPC send message size in bytes
	SendTimeout        time.Duration // Deadline for one Deliver RPC
	ServerStartTimeout time.Duration // Max time to wait for the gRPC server to start listening
	KeepaliveTime      time.Duration // Client/Server: ping interval when idle
	KeepaliveTimeout   time.Duration // Client/Server: timeout waiting for ping ack
	MailboxSize        int           // Incoming delivery queue length
}

// DefaultGRPCTransportOptions provides reasonable default configuration values.
func DefaultGRPCTransportOptions() GRPCTransportOptions {
	return GRPCTransportOptions{
		MaxRecvMsgSize:     4 * 1024 * 1024,
		MaxSendMsgSize:     4 * 1024 * 1024,
		SendTimeout:        5 * time.Second,
		ServerStartTimeout: 10 * time.Second,
		KeepaliveTime:      30 * time.Second,
		KeepaliveTimeout:   10 * time.Second,
		MailboxSize:        defaultMailboxSize,
	}
}

// GRPCTransport carries group messages between statically configured members
// over gRPC. Each member runs one server; messages are framed and shipped in
// a unary Deliver RPC, which keeps per-sender FIFO order for sequential
// sends. Incoming messages are queued into a mailbox drained by a dedicated
// goroutine, so no remote caller ever runs the protocol layer's handlers.
//
// Membership is fixed at construction; there is no failure detection. The
// initial view (all members, sorted by address) is installed on Start, and
// InstallView lets an external detector or operator shrink or grow it.
type GRPCTransport struct {
	localAddr  types.MemberAddress
	listenAddr string
	upcall     Upcall
	logger     logger.Logger
	opts       GRPCTransportOptions

	mu    sync.RWMutex // Protects conns
	peers map[types.MemberAddress]PeerConfig
	conns map[types.MemberAddress]*peerConn

	server   *grpc.Server
	listener net.Listener
	inbox    chan *Message

	viewID        atomic.Uint64
	isShutdown    atomic.Bool
	serverStarted atomic.Bool
	serverReady   chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
}

// peerConn encapsulates the state of a gRPC connection to a single member.
type peerConn struct {
	mu        sync.Mutex // Protects conn during reset
	addr      types.MemberAddress
	dialAddr  string
	conn      *grpc.ClientConn
	connected atomic.Bool
	lastError error
}

// NewGRPCTransport creates a transport endpoint for the local member.
// peers must contain every member of the group, the local one included.
// The endpoint does nothing until Start is called with the layer that will
// receive its upcalls.
func NewGRPCTransport(
	local types.MemberAddress,
	listenAddr string,
	peers map[types.MemberAddress]PeerConfig,
	log logger.Logger,
	opts GRPCTransportOptions,
) (*GRPCTransport, error) {
	if local.IsBroadcast() {
		return nil, ErrInvalidAddress
	}
	if listenAddr == "" {
		return nil, errors.New("transport: listen address cannot be empty")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	for addr, cfg := range peers {
		if addr.IsBroadcast() {
			return nil, ErrInvalidAddress
		}
		if cfg.Address == "" {
			return nil, fmt.Errorf("transport: address for member %s cannot be empty", addr)
		}
	}
	if _, ok := peers[local]; !ok {
		return nil, fmt.Errorf("transport: local member %s missing from peer set", local)
	}

	defaults := DefaultGRPCTransportOptions()
	if opts.MaxRecvMsgSize <= 0 {
		opts.MaxRecvMsgSize = defaults.MaxRecvMsgSize
	}
	if opts.MaxSendMsgSize <= 0 {
		opts.MaxSendMsgSize = defaults.MaxSendMsgSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaults.SendTimeout
	}
	if opts.ServerStartTimeout <= 0 {
		opts.ServerStartTimeout = defaults.ServerStartTimeout
	}
	if opts.KeepaliveTime <= 0 {
		opts.KeepaliveTime = defaults.KeepaliveTime
	}
	if opts.KeepaliveTimeout <= 0 {
		opts.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}

	serverKeepalive := keepalive.ServerParameters{
		Time:    opts.KeepaliveTime,
		Timeout: opts.KeepaliveTimeout,
	}
	enforcement := keepalive.EnforcementPolicy{
		MinTime:             max(opts.KeepaliveTime/2, time.Second),
		PermitWithoutStream: true,
	}
	server := grpc.NewServer(
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(enforcement),
		grpc.MaxRecvMsgSize(opts.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(opts.MaxSendMsgSize),
	)

	t := &GRPCTransport{
		localAddr:   local,
		listenAddr:  listenAddr,
		logger:      log.WithComponent("grpc-transport").WithAddress(local),
		opts:        opts,
		peers:       peers,
		conns:       make(map[types.MemberAddress]*peerConn),
		server:      server,
		inbox:       make(chan *Message, opts.MailboxSize),
		serverReady: make(chan struct{}),
		done:        make(chan struct{}),
	}
	server.RegisterService(&transportServiceDesc, &grpcServerHandler{t: t})
	return t, nil
}

// Start registers the receiving layer, begins listening, starts the
// delivery goroutine, and installs the initial view containing every
// configured member.
func (t *GRPCTransport) Start(upcall Upcall) error {
	if upcall == nil {
		return ErrNilUpcall
	}
	if t.isShutdown.Load() {
		return ErrShuttingDown
	}
	if t.serverStarted.Load() {
		return nil
	}
	t.upcall = upcall

	l, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.listenAddr, err)
	}
	t.listener = l

	go func() {
		t.serverStarted.Store(true)
		close(t.serverReady)
		if err := t.server.Serve(l); err != nil {
			if !t.isShutdown.Load() && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, net.ErrClosed) {
				t.logger.Errorw("gRPC server encountered an error", "error", err)
			}
		}
	}()

	select {
	case <-t.serverReady:
	case <-time.After(t.opts.ServerStartTimeout):
		_ = l.Close()
		return fmt.Errorf("timeout waiting for gRPC server to start listening after %v", t.opts.ServerStartTimeout)
	}

	go t.deliverLoop()

	t.upcall.SetLocalAddress(t.localAddr)
	t.InstallView(t.allMembers()...)

	t.logger.Infow("Transport started", "listen", t.listener.Addr().String())
	return nil
}

// Stop shuts the transport down: no more sends, the server drains, and
// client connections close.
func (t *GRPCTransport) Stop() {
	t.stopOnce.Do(func() {
		t.isShutdown.Store(true)
		close(t.done)

		if t.listener != nil {
			_ = t.listener.Close()
		}

		t.mu.Lock()
		conns := make([]*peerConn, 0, len(t.conns))
		for _, pc := range t.conns {
			conns = append(conns, pc)
		}
		t.mu.Unlock()
		for _, pc := range conns {
			pc.mu.Lock()
			if pc.conn != nil {
				_ = pc.conn.Close()
				pc.conn = nil
			}
			pc.connected.Store(false)
			pc.mu.Unlock()
		}

		if t.serverStarted.Load() {
			t.server.GracefulStop()
		}
		t.logger.Infow("Transport stopped")
	})
}

// InstallView announces a membership change to the local protocol layer.
// Group-wide agreement on views is the caller's responsibility; this
// transport does no failure detection of its own.
func (t *GRPCTransport) InstallView(members ...types.MemberAddress) {
	view := types.View{ID: t.viewID.Add(1), Members: members}
	t.upcall.ViewChange(view)
}

// LocalAddress implements Transport.
func (t *GRPCTransport) LocalAddress() types.MemberAddress { return t.localAddr }

// Send implements Transport. Unicast to self short-circuits through the
// local mailbox; everything else goes out as a unary Deliver RPC.
func (t *GRPCTransport) Send(msg *Message) error {
	if t.isShutdown.Load() {
		return ErrShuttingDown
	}
	msg.Src = t.localAddr

	if msg.Dest.IsBroadcast() {
		var firstErr error
		for _, addr := range t.allMembers() {
			if err := t.sendTo(addr, msg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return t.sendTo(msg.Dest, msg)
}

func (t *GRPCTransport) sendTo(dest types.MemberAddress, msg *Message) error {
	if dest == t.localAddr {
		cp := *msg
		return t.enqueue(&cp)
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	pc, err := t.getOrCreateConn(dest)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.SendTimeout)
	defer cancel()

	in := wrapperspb.Bytes(frame)
	out := new(emptypb.Empty)
	if err := pc.conn.Invoke(ctx, deliverMethod, in, out); err != nil {
		pc.lastError = err
		pc.connected.Store(false)
		return formatGRPCError(err)
	}
	pc.connected.Store(true)
	pc.lastError = nil
	return nil
}

func (t *GRPCTransport) enqueue(msg *Message) error {
	select {
	case <-t.done:
		return ErrShuttingDown
	default:
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		t.logger.Warnw("Mailbox full, dropping message", "msg", msg)
		return ErrMailboxFull
	}
}

func (t *GRPCTransport) deliverLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.inbox:
			t.upcall.Deliver(msg)
		}
	}
}

func (t *GRPCTransport) allMembers() []types.MemberAddress {
	members := make([]types.MemberAddress, 0, len(t.peers))
	for addr := range t.peers {
		members = append(members, addr)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// getOrCreateConn retrieves an active client connection, creating and
// connecting it if one doesn't exist or the existing one is disconnected.
func (t *GRPCTransport) getOrCreateConn(dest types.MemberAddress) (*peerConn, error) {
	t.mu.RLock()
	pc, exists := t.conns[dest]
	t.mu.RUnlock()
	if exists && pc.connected.Load() {
		return pc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pc, exists = t.conns[dest]
	if exists && pc.connected.Load() {
		return pc, nil // Another goroutine connected it
	}

	cfg, ok := t.peers[dest]
	if !ok {
		return nil, fmt.Errorf("member %s not found in configuration: %w", dest, ErrUnknownMember)
	}
	if !exists {
		pc = &peerConn{addr: dest, dialAddr: cfg.Address}
		t.conns[dest] = pc
	}
	if err := t.connectLocked(pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// connectLocked establishes a gRPC connection. Assumes t.mu is held.
func (t *GRPCTransport) connectLocked(pc *peerConn) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.conn != nil {
		_ = pc.conn.Close()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                t.opts.KeepaliveTime,
			Timeout:             t.opts.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"pick_first"}`),
	}

	conn, err := grpc.NewClient(pc.dialAddr, dialOpts...)
	if err != nil {
		pc.lastError = err
		pc.connected.Store(false)
		t.logger.Warnw("Failed to connect to member", "member", pc.addr, "address", pc.dialAddr, "error", err)
		return fmt.Errorf("failed to connect to member %s at %s: %w", pc.addr, pc.dialAddr, err)
	}

	pc.conn = conn
	pc.connected.Store(true)
	pc.lastError = nil
	t.logger.Debugw("Connected to member", "member", pc.addr, "address", pc.dialAddr)
	return nil
}

// formatGRPCError converts gRPC status errors into transport errors.
func formatGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return fmt.Errorf("network error: %w", err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return ErrTimeout
	case codes.Canceled:
		return context.Canceled
	case codes.Aborted:
		return ErrShuttingDown
	case codes.Unavailable:
		return fmt.Errorf("member unavailable: %w", err)
	default:
		return err
	}
}

// grpcServerHandler accepts Deliver RPCs and queues the framed message into
// the local mailbox; the RPC acknowledges acceptance, not processing.
type grpcServerHandler struct {
	t *GRPCTransport
}

func (h *grpcServerHandler) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if h.t.isShutdown.Load() {
		return nil, status.Error(codes.Aborted, "transport shutting down")
	}
	msg, err := decodeFrame(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed frame: %v", err)
	}
	if err := h.t.enqueue(msg); err != nil {
		return nil, status.Errorf(codes.ResourceExhausted, "delivery queue full: %v", err)
	}
	return new(emptypb.Empty), nil
}

// deliverServer is the server-side contract of the Deliver RPC; the service
// descriptor below is maintained by hand since the message types are the
// protobuf well-known wrappers.
type deliverServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(deliverServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "grouplock.Transport",
	HandlerType: (*deliverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grouplock/transport",
}
