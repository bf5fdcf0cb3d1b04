package hostbridge

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hypebeast/go-osc/osc"
	"github.com/oklog/ulid/v2"

	"github.com/zenibako/scenario-sync/messages"
	"github.com/zenibako/scenario-sync/scenario"
)

// Sender delivers OSC packets; *osc.Client satisfies it
type Sender interface {
	Send(packet osc.Packet) error
}

// Options configures the bridge
type Options struct {
	Logger *log.Logger
}

// Broadcaster turns cache change events and resource writes into OSC update
// messages. Every message carries a ULID event id as its first argument.
type Broadcaster struct {
	sender Sender
	logger *log.Logger
	mu     sync.Mutex
	sent   int
}

// NewBroadcaster creates a broadcaster that sends through sender
func NewBroadcaster(sender Sender, opts Options) *Broadcaster {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{sender: sender, logger: logger}
}

// NewUDPBroadcaster creates a broadcaster sending to host:port
func NewUDPBroadcaster(host string, port int, opts Options) *Broadcaster {
	return NewBroadcaster(osc.NewClient(host, port), opts)
}

// Attach subscribes to the cache's change feed and the provider's write
// notifications. The returned function detaches both.
func (b *Broadcaster) Attach(cache *scenario.Cache, provider *scenario.Provider) func() {
	unsubChanges := cache.Subscribe(func(e scenario.ChangeEvent) {
		if err := b.PublishChange(e.ShortID); err != nil {
			b.logger.Warn("Failed to publish change", "shortId", e.ShortID, "err", err)
		}
	})
	unsubResources := func() {}
	if provider != nil {
		unsubResources = provider.OnDidChangeResource(func(path string) {
			if err := b.PublishResource(path); err != nil {
				b.logger.Warn("Failed to publish resource change", "path", path, "err", err)
			}
		})
	}
	return func() {
		unsubChanges()
		unsubResources()
	}
}

// PublishChange announces a change to one scenario, or to everything when shortID is empty
func (b *Broadcaster) PublishChange(shortID string) error {
	address := messages.NewAddressBuilder(shortID).UpdateAddress()
	return b.send(address, shortID)
}

// PublishResource announces a successful write to a resource path
func (b *Broadcaster) PublishResource(path string) error {
	shortID, name, ok := messages.SplitPath(path)
	if !ok {
		return fmt.Errorf("%q: %w", path, scenario.ErrResourceNotFound)
	}
	address := messages.NewAddressBuilder(shortID).ResourceUpdateAddress(name)
	return b.send(address, shortID)
}

func (b *Broadcaster) send(address, shortID string) error {
	msg := osc.NewMessage(address)
	msg.Append(ulid.Make().String())
	if shortID != "" {
		msg.Append(shortID)
	}
	b.logger.Debug("Sending OSC update", "address", address)
	if err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", address, err)
	}
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return nil
}

// Sent returns how many messages were delivered
func (b *Broadcaster) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Reloader is the part of the cache the listener drives
type Reloader interface {
	RequestServerReload(shortID string)
	InvalidateAll()
}

// Listener accepts /reload commands over OSC
type Listener struct {
	reloader Reloader
	logger   *log.Logger
	server   *osc.Server

	mu   sync.Mutex
	conn net.PacketConn
}

// NewListener creates a listener bound to addr ("host:port") once served
func NewListener(addr string, reloader Reloader, opts Options) (*Listener, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	l := &Listener{reloader: reloader, logger: logger}

	d, err := newDispatcher("*", l.Handle)
	if err != nil {
		return nil, err
	}
	l.server = &osc.Server{
		Addr:       addr,
		Dispatcher: d,
	}
	return l, nil
}

func newDispatcher(pattern string, handler osc.HandlerFunc) (*osc.StandardDispatcher, error) {
	d := osc.NewStandardDispatcher()
	if err := d.AddMsgHandler(pattern, handler); err != nil {
		return nil, fmt.Errorf("failed to register OSC handler %q: %w", pattern, err)
	}
	return d, nil
}

// Handle routes one inbound message. Addresses other than reload commands are ignored.
func (l *Listener) Handle(msg *osc.Message) {
	if !strings.HasPrefix(msg.Address, messages.ReloadPrefix) {
		l.logger.Debug("Ignoring OSC message", "address", msg.Address)
		return
	}
	shortID, ok := messages.ParseReloadAddress(msg.Address)
	if !ok {
		l.logger.Warn("Malformed reload address", "address", msg.Address)
		return
	}
	if shortID == "" {
		l.logger.Info("Reloading all scenarios")
		l.reloader.InvalidateAll()
		return
	}
	l.logger.Info("Reloading scenario", "shortId", shortID)
	l.reloader.RequestServerReload(shortID)
}

// ListenAndServe binds the configured address and serves until Close
func (l *Listener) ListenAndServe() error {
	conn, err := net.ListenPacket("udp", l.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.server.Addr, err)
	}
	return l.Serve(conn)
}

// Serve reads OSC packets from conn until it is closed
func (l *Listener) Serve(conn net.PacketConn) error {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.logger.Info("OSC listener started", "addr", conn.LocalAddr().String())
	err := l.server.Serve(conn)
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close stops serving
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
