package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported broker url scheme")
	ErrClosed            = errors.New("connection closed")
)

const defaultConnectTimeout = 30 * time.Second

// PahoDialer opens connections with paho.golang. The MQTT handshake runs in
// the background after Dial returns; its outcome is the connect or error
// event.
type PahoDialer struct{}

func (PahoDialer) Dial(ctx context.Context, rawURL string, opts Options) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url %q: %w", rawURL, err)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	nd := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	switch u.Scheme {
	case "tcp", "mqtt":
		conn, err = nd.DialContext(ctx, "tcp", hostPort(u, "1883"))
	case "ssl", "tls", "mqtts":
		td := &tls.Dialer{
			NetDialer: nd,
			Config: &tls.Config{
				ServerName:         u.Hostname(),
				InsecureSkipVerify: opts.Insecure,
			},
		}
		conn, err = td.DialContext(ctx, "tcp", hostPort(u, "8883"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Host, err)
	}

	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}

	pc := &pahoConn{
		Emitter: NewLifecycleEmitter(),
		netConn: conn,
		log:     zerolog.Ctx(ctx).With().Str("client_id", opts.ClientID).Logger(),
	}
	pc.client = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				pc.emit(Event{
					Name: EventMessage,
					Message: Message{
						Topic:   pr.Packet.Topic,
						Payload: pr.Packet.Payload,
						QoS:     pr.Packet.QoS,
						Retain:  pr.Packet.Retain,
					},
				})
				return true, nil
			},
		},
		OnClientError: func(err error) {
			pc.emit(Event{Name: EventError, Err: err})
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			pc.emit(Event{
				Name: EventClose,
				Err:  fmt.Errorf("server disconnect, reason code %d", d.ReasonCode),
			})
		},
	})

	cp := &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  opts.KeepAlive,
		CleanStart: !opts.KeepSession,
	}
	if opts.Username != "" {
		cp.UsernameFlag = true
		cp.Username = opts.Username
	}
	if opts.Password != "" {
		cp.PasswordFlag = true
		cp.Password = []byte(opts.Password)
	}

	go pc.handshake(cp, timeout)

	return pc, nil
}

func hostPort(u *url.URL, defPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defPort)
}

type pahoConn struct {
	*Emitter

	client  *paho.Client
	netConn net.Conn
	log     zerolog.Logger

	closed  atomic.Bool
	endOnce sync.Once
	endErr  error
}

func (c *pahoConn) handshake(cp *paho.Connect, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ca, err := c.client.Connect(ctx, cp)
	if err != nil {
		c.emit(Event{Name: EventError, Err: err})
		return
	}
	if ca.ReasonCode >= 0x80 {
		c.emit(Event{
			Name: EventError,
			Err:  fmt.Errorf("connack reason code %d", ca.ReasonCode),
		})
		return
	}
	c.log.Debug().Msg("connected")
	c.emit(Event{Name: EventConnect})
}

// emit is a no-op once End has been called; paho reports the socket
// teardown as a client error.
func (c *pahoConn) emit(ev Event) {
	if c.closed.Load() {
		return
	}
	c.Emit(ev)
}

func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte, cfg ActionConfig) error {
	if c.closed.Load() {
		return ErrClosed
	}
	resp, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     cfg.QoS,
		Retain:  cfg.Retain,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("publish reason code %d", resp.ReasonCode)
	}
	return nil
}

func (c *pahoConn) Subscribe(ctx context.Context, filter string, cfg ActionConfig) error {
	if c.closed.Load() {
		return ErrClosed
	}
	sa, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{
				Topic:             filter,
				QoS:               cfg.QoS,
				NoLocal:           cfg.NoLocal,
				RetainAsPublished: cfg.RetainAsPublished,
				RetainHandling:    cfg.RetainHandling,
			},
		},
	})
	if err != nil {
		return err
	}
	for _, r := range sa.Reasons {
		if r >= 0x80 {
			return fmt.Errorf("suback reason code %d", r)
		}
	}
	return nil
}

// End with force closes the socket without a DISCONNECT and without waiting
// for outstanding acknowledgements. Later calls return the first result.
func (c *pahoConn) End(force bool) error {
	c.endOnce.Do(func() {
		c.closed.Store(true)
		if force {
			c.endErr = c.netConn.Close()
		} else {
			c.endErr = c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		}
		c.Reset()
		c.log.Debug().Bool("force", force).Msg("connection ended")
	})
	return c.endErr
}
