// Package config reads network files, which name a set of message bus targets
// and how to reach them.
//
// A network file looks like:
//
//	// Search cluster.
//	network search
//	timeout 5s
//	expire 60s
//	compression snappy
//	targets (
//		docproc tcp/localhost:19090
//		indexer tcp/localhost:19091 // fallback
//	)
//
// The network line must come first. Every other directive may appear at most once.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gostdlib/base/context"
	"github.com/johnsiilver/halfpike"

	"github.com/bearlytools/mbus/errors"
	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/rpc/compress"
)

// Defaults for directives that are left out.
const (
	DefaultTimeout = 5 * time.Second
	DefaultExpire  = 60 * time.Second
)

// Target is one named endpoint.
type Target struct {
	// Name is the name the target is known by in the network.
	Name string
	// Spec is the connection spec, such as "tcp/localhost:19090".
	Spec string
}

// Network is a parsed network file.
type Network struct {
	// Name of the network.
	Name string
	// Timeout is the version resolution timeout.
	Timeout time.Duration
	// Expire is how long an unused target is kept open.
	Expire time.Duration
	// Compression used for requests.
	Compression compress.Compression
	// Targets in the order they were listed.
	Targets []Target

	seen map[string]bool
}

// Validate checks that the Network is usable.
func (n *Network) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", n.Timeout)
	}
	if n.Expire <= 0 {
		return fmt.Errorf("expire must be positive, got %s", n.Expire)
	}
	if len(n.Targets) == 0 {
		return fmt.Errorf("network %q has no targets", n.Name)
	}
	return nil
}

// Start is the start point for reading a network file.
func (n *Network) Start(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	return n.ParseNetwork
}

func (n *Network) skipLinesWithComments(p *halfpike.Parser) {
	for {
		l := p.Next()
		if len(l.Items) > 0 && isComment(l.Items[0]) && !p.EOF(l) {
			continue
		}
		p.Backup()
		return
	}
}

// ParseNetwork parses the network line, which must be the first non-comment line.
func (n *Network) ParseNetwork(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	n.skipLinesWithComments(p)

	l := p.Next()
	if len(l.Items) < 3 {
		return p.Errorf("[Line %d] error: first directive must be 'network <name>'", l.LineNum)
	}
	if err := caseSensitiveCheck("network", l.Items[0].Val); err != nil {
		return p.Errorf("[Line %d] error: %s", l.LineNum, err)
	}
	n.Name = l.Items[1].Val
	if err := commentOrEOL(l, 2); err != nil {
		return p.Errorf("[Line %d] %s", l.LineNum, err)
	}
	return n.FindNext
}

// FindNext scans for the next directive and hands it to its ParseFn.
func (n *Network) FindNext(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	n.skipLinesWithComments(p)

	line := p.Next()
	if p.EOF(line) {
		return nil
	}

	var next halfpike.ParseFn
	switch strings.ToLower(line.Items[0].Val) {
	case "timeout":
		next = n.ParseTimeout
	case "expire":
		next = n.ParseExpire
	case "compression":
		next = n.ParseCompression
	case "targets":
		next = n.ParseTargets
	default:
		return p.Errorf("[Line %d] error: unknown directive %q", line.LineNum, line.Items[0].Val)
	}

	key := strings.ToLower(line.Items[0].Val)
	if n.seen[key] {
		return p.Errorf("[Line %d] error: duplicate %q directive found", line.LineNum, line.Items[0].Val)
	}
	if n.seen == nil {
		n.seen = map[string]bool{}
	}
	n.seen[key] = true

	p.Backup()
	return next
}

// value returns the single value of a "keyword value" line.
func value(keyword string, l halfpike.Line) (string, error) {
	if len(l.Items) < 3 {
		return "", fmt.Errorf("expected '%s <value>'", keyword)
	}
	if err := caseSensitiveCheck(keyword, l.Items[0].Val); err != nil {
		return "", err
	}
	if err := commentOrEOL(l, 2); err != nil {
		return "", err
	}
	return l.Items[1].Val, nil
}

// ParseTimeout parses the timeout directive.
func (n *Network) ParseTimeout(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	l := p.Next()
	d, err := durationValue("timeout", l)
	if err != nil {
		return p.Errorf("[Line %d] error: %s", l.LineNum, err)
	}
	n.Timeout = d
	return n.FindNext
}

// ParseExpire parses the expire directive.
func (n *Network) ParseExpire(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	l := p.Next()
	d, err := durationValue("expire", l)
	if err != nil {
		return p.Errorf("[Line %d] error: %s", l.LineNum, err)
	}
	n.Expire = d
	return n.FindNext
}

func durationValue(keyword string, l halfpike.Line) (time.Duration, error) {
	s, err := value(keyword, l)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", keyword, s, err)
	}
	return d, nil
}

// ParseCompression parses the compression directive.
func (n *Network) ParseCompression(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	l := p.Next()
	s, err := value("compression", l)
	if err != nil {
		return p.Errorf("[Line %d] error: %s", l.LineNum, err)
	}
	c, err := compress.Parse(s)
	if err != nil {
		return p.Errorf("[Line %d] error: %s", l.LineNum, err)
	}
	n.Compression = c
	return n.FindNext
}

// ParseTargets parses the targets block.
func (n *Network) ParseTargets(ctx context.Context, p *halfpike.Parser) halfpike.ParseFn {
	line := p.Next()

	if len(line.Items) < 3 || line.Items[1].Val != "(" {
		return p.Errorf("[Line %d] error: got %q, want: 'targets ('", line.LineNum, line.Raw)
	}
	if err := caseSensitiveCheck("targets", line.Items[0].Val); err != nil {
		return p.Errorf("[Line %d] error: %s", line.LineNum, err)
	}
	if err := commentOrEOL(line, 2); err != nil {
		return p.Errorf("[Line %d] %s", line.LineNum, err)
	}

	names := map[string]bool{}
	for {
		line = p.Next()
		if p.EOF(line) {
			return p.Errorf("unexpected EOF before close of 'targets' directive")
		}
		if isComment(line.Items[0]) {
			continue
		}
		if line.Items[0].Val == ")" {
			if len(n.Targets) == 0 {
				return p.Errorf("[Line %d] error: cannot have a 'targets' directive with no targets", line.LineNum)
			}
			if err := commentOrEOL(line, 1); err != nil {
				return p.Errorf("[Line %d] %s", line.LineNum, err)
			}
			return n.FindNext
		}

		t, err := parseTargetLine(line)
		if err != nil {
			return p.Errorf("[Line %d] error: %s", line.LineNum, err)
		}
		if names[t.Name] {
			return p.Errorf("[Line %d] error: duplicate target %q", line.LineNum, t.Name)
		}
		names[t.Name] = true
		n.Targets = append(n.Targets, t)
	}
}

func parseTargetLine(line halfpike.Line) (Target, error) {
	if len(line.Items) < 3 {
		return Target{}, fmt.Errorf("expected [name] [spec]")
	}
	t := Target{Name: line.Items[0].Val, Spec: line.Items[1].Val}
	if _, _, err := client.ParseSpec(t.Spec); err != nil {
		return Target{}, err
	}
	if err := commentOrEOL(line, 2); err != nil {
		return Target{}, err
	}
	return t, nil
}

func caseSensitiveCheck(want string, item string) error {
	if item != want {
		if strings.EqualFold(item, want) {
			return fmt.Errorf("%q keyword found, but it is required to be %q", item, want)
		}
		return fmt.Errorf("got: %q, want: %q", item, want)
	}
	return nil
}

func isComment(item halfpike.Item) bool {
	return strings.HasPrefix(item.Val, "//")
}

func commentOrEOL(line halfpike.Line, from int) error {
	if from >= len(line.Items) || isComment(line.Items[from]) {
		return nil
	}
	if len(line.Items[from:]) > 1 {
		return fmt.Errorf("got item %q after %q, which was unexpected", halfpike.ItemJoin(line, from, len(line.Items)), halfpike.ItemJoin(line, 0, from))
	}
	return nil
}

// Parse parses the content of a network file. Directives that are left out get
// DefaultTimeout, DefaultExpire and no compression.
func Parse(ctx context.Context, content string) (*Network, error) {
	n := &Network{Timeout: DefaultTimeout, Expire: DefaultExpire}
	if err := halfpike.Parse(ctx, content, n); err != nil {
		return nil, errors.E(ctx, errors.CatUser, errors.TypeParameter, fmt.Errorf("failed to parse network file: %w", err))
	}
	if err := n.Validate(); err != nil {
		return nil, errors.E(ctx, errors.CatUser, errors.TypeParameter, err)
	}
	n.seen = nil
	return n, nil
}

// Load reads and parses the network file at path.
func Load(ctx context.Context, path string) (*Network, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(ctx, errors.CatUser, errors.TypeFS, fmt.Errorf("failed to read %s: %w", path, err))
	}
	n, err := Parse(ctx, string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
