package ipfs_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/ipfs"
)

const (
	emptyDir  = "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"
	emptyFile = "QmbFMke1KXqnYyBBWxB74N4c5SBnJMVAiMNRcGu6x1AwQH"
	helloFile = "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o"
	someDir   = "QmPZ9gcCEpqKTo6aq61g2nXGUhM4iCL3ewB6LDXZCtioEB"
)

type fakeRunner struct {
	out   map[string]string
	err   error
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return "", f.err
	}
	return f.out[cmd], nil
}

func TestClient_Operations(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: map[string]string{
		"add -q -- /r/a.txt":       helloFile + "\n",
		"object new unixfs-dir":    emptyDir,
		"object patch " + emptyDir + " add-link a.txt " + helloFile: someDir,
	}}
	c := ipfs.New(r, nil)
	ctx := context.Background()

	blob, err := c.AddBlob(ctx, "/r/a.txt")
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID(helloFile), blob)

	empty, err := c.NewEmptyDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID(emptyDir), empty)

	dir, err := c.AttachLink(ctx, empty, "a.txt", blob)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID(someDir), dir)

	assert.Equal(t, []string{
		"add -q -- /r/a.txt",
		"object new unixfs-dir",
		"object patch " + emptyDir + " add-link a.txt " + helloFile,
	}, r.calls)
}

func TestClient_AddUsesLastLine(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: map[string]string{
		"add -q -- /r/dir": emptyFile + "\n" + helloFile + "\n",
	}}
	id, err := ipfs.New(r, nil).AddBlob(context.Background(), "/r/dir")
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID(helloFile), id)
}

func TestClient_RejectsGarbage(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: map[string]string{
		"add -q -- /r/a": "Error: api not running",
	}}
	_, err := ipfs.New(r, nil).AddBlob(context.Background(), "/r/a")

	var bse *backend.BackingStoreError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, "/r/a", bse.Arg)
}

func TestClient_CommandFailure(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{err: errors.New("exit status 1")}
	_, err := ipfs.New(r, nil).NewEmptyDirectory(context.Background())

	var bse *backend.BackingStoreError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, "new-dir", bse.Op)
}

func TestClient_Stat(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: map[string]string{
		"files stat /ipfs/" + someDir: someDir + "\nSize: 0\nCumulativeSize: 1234\nChildBlocks: 3\nType: directory\n",
	}}
	stat, err := ipfs.New(r, nil).StatObject(context.Background(), someDir)
	require.NoError(t, err)
	assert.Equal(t, backend.KindDirectory, stat.Kind)
	assert.Equal(t, int64(1234), stat.CumulativeSize)
	assert.Equal(t, 3, stat.Links)
	assert.Equal(t, backend.ContentID(someDir), stat.ID)

	_, err = ipfs.New(r, nil).StatObject(context.Background(), "not-a-cid")
	require.Error(t, err)
}

func TestClient_Identity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ipfs", backend.Identity(ipfs.New(&fakeRunner{}, nil)))
}
