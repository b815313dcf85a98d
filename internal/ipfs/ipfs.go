// Package ipfs is a backend.Backend that drives the ipfs command line tool.
//
// Every call runs one ipfs subcommand and reads the resulting CID from its
// standard output:
//
//	add -q -- PATH                    -> blob
//	object new unixfs-dir             -> empty directory
//	object patch DIR add-link NAME ID -> directory plus one link
//	files stat /ipfs/ID               -> sizes
package ipfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/aweris/dirmirror/internal/backend"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "ipfs"

// Runner executes an ipfs subcommand and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs a local ipfs binary.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = DefaultBinary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", bin, args[0], err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", bin, args[0], err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Client implements backend.Backend on top of a Runner.
type Client struct {
	runner Runner
	log    *logrus.Entry
}

var (
	_ backend.Backend    = (*Client)(nil)
	_ backend.Identifier = (*Client)(nil)
)

// New returns a client using runner. A nil runner runs DefaultBinary.
func New(runner Runner, log *logrus.Entry) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{runner: runner, log: log}
}

// Identity is shared by every client: ids are global CIDs.
func (c *Client) Identity() string { return "ipfs" }

func (c *Client) AddBlob(ctx context.Context, path string) (backend.ContentID, error) {
	out, err := c.runner.Run(ctx, "add", "-q", "--", path)
	if err != nil {
		return "", backend.Fail("add", path, err)
	}
	id, err := lastCID(out)
	if err != nil {
		return "", backend.Fail("add", path, err)
	}
	c.log.WithFields(logrus.Fields{"path": path, "id": id}).Debug("ipfs add")
	return id, nil
}

func (c *Client) NewEmptyDirectory(ctx context.Context) (backend.ContentID, error) {
	out, err := c.runner.Run(ctx, "object", "new", "unixfs-dir")
	if err != nil {
		return "", backend.Fail("new-dir", "", err)
	}
	id, err := lastCID(out)
	if err != nil {
		return "", backend.Fail("new-dir", "", err)
	}
	return id, nil
}

func (c *Client) AttachLink(ctx context.Context, dir backend.ContentID, name string, target backend.ContentID) (backend.ContentID, error) {
	out, err := c.runner.Run(ctx, "object", "patch", string(dir), "add-link", name, string(target))
	if err != nil {
		return "", backend.Fail("add-link", name, err)
	}
	id, err := lastCID(out)
	if err != nil {
		return "", backend.Fail("add-link", name, err)
	}
	c.log.WithFields(logrus.Fields{"dir": dir, "name": name, "id": id}).Debug("ipfs add-link")
	return id, nil
}

func (c *Client) StatObject(ctx context.Context, id backend.ContentID) (backend.ObjectStat, error) {
	if _, err := cid.Decode(string(id)); err != nil {
		return backend.ObjectStat{}, backend.Fail("stat", string(id), err)
	}

	out, err := c.runner.Run(ctx, "files", "stat", "/ipfs/"+string(id))
	if err != nil {
		return backend.ObjectStat{}, backend.Fail("stat", string(id), err)
	}
	stat, err := parseStat(out)
	if err != nil {
		return backend.ObjectStat{}, backend.Fail("stat", string(id), err)
	}
	stat.ID = id
	return stat, nil
}

// lastCID returns the last line of out as a validated CID. add prints one
// line per ingested path and the interesting one is last.
func lastCID(out string) (backend.ContentID, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "", fmt.Errorf("empty output")
	}

	c, err := cid.Decode(last)
	if err != nil {
		return "", fmt.Errorf("unexpected output %q: %w", last, err)
	}
	return backend.ContentID(c.String()), nil
}

// parseStat reads the "Key: value" lines printed by files stat.
func parseStat(out string) (backend.ObjectStat, error) {
	var stat backend.ObjectStat

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		var err error
		switch strings.TrimSpace(key) {
		case "Size":
			stat.Size, err = strconv.ParseInt(value, 10, 64)
		case "CumulativeSize":
			stat.CumulativeSize, err = strconv.ParseInt(value, 10, 64)
		case "ChildBlocks":
			stat.Links, err = strconv.Atoi(value)
		case "Type":
			if value == "directory" {
				stat.Kind = backend.KindDirectory
			} else {
				stat.Kind = backend.KindBlob
			}
		}
		if err != nil {
			return stat, fmt.Errorf("parse %s: %w", key, err)
		}
	}
	if stat.Kind == "" {
		return stat, fmt.Errorf("missing Type in stat output")
	}
	return stat, sc.Err()
}
