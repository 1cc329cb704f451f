package suite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/payload"
	"github.com/andrew-r-thomas/mqttest/peer"
	"github.com/andrew-r-thomas/mqttest/transport"
)

// File is a parsed suite file.
type File struct {
	Peers []*peer.Publisher
	Tree  Tree
}

type rawFile struct {
	Defaults rawDefinition `yaml:"defaults"`
	Peers    []rawPeer     `yaml:"peers"`
	Tests    *rawTree      `yaml:"tests"`
}

type rawPeer struct {
	ID       string                 `yaml:"id"`
	URL      string                 `yaml:"url"`
	Options  transport.Options      `yaml:"options"`
	Topic    string                 `yaml:"topic"`
	Every    time.Duration          `yaml:"every"`
	Payload  any                    `yaml:"payload"`
	Encoding payload.Encoding       `yaml:"encoding"`
	Config   transport.ActionConfig `yaml:"config"`
	Stamp    bool                   `yaml:"stamp"`
}

type rawDefinition struct {
	Name    string                  `yaml:"name"`
	URL     string                  `yaml:"url"`
	Options *transport.Options      `yaml:"options"`
	Verb    string                  `yaml:"verb"`
	Event   string                  `yaml:"event"`
	Packet  *rawPacket              `yaml:"packet"`
	Config  *transport.ActionConfig `yaml:"config"`
	Timeout time.Duration           `yaml:"timeout"`
	Expect  *rawExpect              `yaml:"expect"`
	Steps   []rawDefinition         `yaml:"steps"`
}

type rawPacket struct {
	Topic    string           `yaml:"topic"`
	Payload  any              `yaml:"payload"`
	Encoding payload.Encoding `yaml:"encoding"`
	// Delay holds the packet back, so a publish step can give a subscribe
	// step running next to it time to be acknowledged.
	Delay time.Duration `yaml:"delay"`
}

type rawExpect struct {
	Topic    string           `yaml:"topic"`
	Payload  any              `yaml:"payload"`
	Encoding payload.Encoding `yaml:"encoding"`
	Contains string           `yaml:"contains"`
	Retain   *bool            `yaml:"retain"`
}

// rawTree is either a mapping of suite name to suite or a list of tests.
type rawTree struct {
	suites []rawSuite
	tests  []rawDefinition
}

type rawSuite struct {
	name     string
	Defaults rawDefinition `yaml:"defaults"`
	Tests    *rawTree      `yaml:"tests"`
}

func (t *rawTree) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		return decodeStrict(n, &t.tests)
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			s := rawSuite{name: n.Content[i].Value}
			// anything but a mapping is a suite without tests
			if v := n.Content[i+1]; v.Kind == yaml.MappingNode {
				if err := decodeStrict(v, &s); err != nil {
					return err
				}
			}
			t.suites = append(t.suites, s)
		}
		return nil
	default:
		return fmt.Errorf("line %d: tests must be a mapping of suites or a list of tests", n.Line)
	}
}

// decodeStrict decodes n rejecting unknown keys. Node.Decode does not carry
// the outer decoder's KnownFields, so the node is re-encoded and decoded by
// a strict decoder of its own.
func decodeStrict(n *yaml.Node, out any) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.WithMessagef(err, "block at line %d", n.Line)
	}
	return nil
}

// Load reads and parses a suite file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read suite file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "suite file %s", path)
	}
	return f, nil
}

func Parse(data []byte) (*File, error) {
	var raw rawFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.WithMessage(err, "could not parse suite")
	}
	if raw.Tests == nil {
		return nil, errors.Wrap(mqttest.ErrInvalidDefinition, "suite has no tests")
	}

	tree, err := raw.Tests.tree(raw.Defaults)
	if err != nil {
		return nil, err
	}
	f := &File{Tree: tree}
	for i, rp := range raw.Peers {
		p, err := rp.publisher()
		if err != nil {
			return nil, errors.WithMessagef(err, "peer %d", i+1)
		}
		f.Peers = append(f.Peers, p)
	}
	return f, nil
}

func (t *rawTree) tree(defaults rawDefinition) (Tree, error) {
	var out Tree
	var err error
	if out.Defaults, err = defaults.definition(); err != nil {
		return Tree{}, errors.WithMessage(err, "defaults")
	}
	for i, rd := range t.tests {
		def, err := rd.definition()
		if err != nil {
			return Tree{}, errors.WithMessagef(err, "test %q", testName(def, i))
		}
		out.Tests = append(out.Tests, def)
	}
	for _, rs := range t.suites {
		s := Suite{Name: rs.name}
		if rs.Tests != nil {
			sub, err := rs.Tests.tree(rs.Defaults)
			if err != nil {
				return Tree{}, errors.WithMessagef(err, "suite %q", rs.name)
			}
			s.Tests = &sub
		}
		out.Suites = append(out.Suites, s)
	}
	return out, nil
}

func (r rawDefinition) definition() (mqttest.Definition, error) {
	d := mqttest.Definition{
		Name:    r.Name,
		Verb:    mqttest.Verb(r.Verb),
		Config:  r.Config,
		Timeout: r.Timeout,
	}
	if r.URL != "" {
		raw := r.URL
		d.URL = mqttest.Func(func() string { return os.ExpandEnv(raw) })
	}
	if r.Options != nil {
		d.Options = mqttest.Value(*r.Options)
	}
	if r.Event != "" {
		d.Event = mqttest.Value(r.Event)
	}
	if r.Packet != nil {
		p, err := r.Packet.packet()
		if err != nil {
			return d, err
		}
		d.Packet = p
	}
	if r.Expect != nil {
		fn, err := r.Expect.expectFunc()
		if err != nil {
			return d, err
		}
		d.Expect = fn
	}
	for i, rs := range r.Steps {
		sd, err := rs.definition()
		if err != nil {
			return d, errors.WithMessagef(err, "step %d", i+1)
		}
		d.Steps = append(d.Steps, mqttest.Value(sd))
	}
	return d, nil
}

func (r rawPacket) packet() (mqttest.Lazy[mqttest.Packet], error) {
	if !r.Encoding.Valid() {
		return mqttest.Lazy[mqttest.Packet]{}, fmt.Errorf("%w: %q", payload.ErrUnknownEncoding, r.Encoding)
	}
	body, err := payload.Encode(r.Encoding, r.Payload)
	if err != nil {
		return mqttest.Lazy[mqttest.Packet]{}, errors.WithMessage(err, "packet payload")
	}
	p := mqttest.Packet{Topic: r.Topic, Payload: body}
	if r.Delay <= 0 {
		return mqttest.Value(p), nil
	}

	delay := r.Delay
	return mqttest.Async(func(ctx context.Context) (mqttest.Packet, error) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			return p, nil
		case <-ctx.Done():
			return mqttest.Packet{}, ctx.Err()
		}
	}), nil
}

func (e rawExpect) expectFunc() (mqttest.ExpectFunc, error) {
	if !e.Encoding.Valid() {
		return nil, fmt.Errorf("%w: %q", payload.ErrUnknownEncoding, e.Encoding)
	}
	return func(m mqttest.Message) error {
		if e.Topic != "" && !transport.MatchTopic(e.Topic, m.Topic) {
			return fmt.Errorf("topic %q does not match %q", m.Topic, e.Topic)
		}
		if e.Retain != nil && *e.Retain != m.Retain {
			return fmt.Errorf("retain is %v, want %v", m.Retain, *e.Retain)
		}
		if e.Contains != "" && !bytes.Contains(m.Payload, []byte(e.Contains)) {
			return fmt.Errorf("payload %q does not contain %q", m.Payload, e.Contains)
		}
		if e.Payload != nil {
			return payload.Match(e.Encoding, e.Payload, m.Payload)
		}
		return nil
	}, nil
}

func (r rawPeer) publisher() (*peer.Publisher, error) {
	if r.Topic == "" {
		return nil, errors.Wrap(mqttest.ErrInvalidDefinition, "peer has no topic")
	}
	body, err := payload.Encode(r.Encoding, r.Payload)
	if err != nil {
		return nil, errors.WithMessage(err, "peer payload")
	}
	return &peer.Publisher{
		ID:      r.ID,
		URL:     os.ExpandEnv(r.URL),
		Options: r.Options,
		Topic:   r.Topic,
		Every:   r.Every,
		Payload: body,
		Config:  r.Config,
		Stamp:   r.Stamp,
	}, nil
}
