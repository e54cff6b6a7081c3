package ftp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/shared"
)

// memFile is a trivial in-memory NetworkFile used by fakeDriver below.
type memFile struct {
	path string
	dir  bool
	data []byte
}

func (f *memFile) Path() string      { return f.path }
func (f *memFile) IsDirectory() bool { return f.dir }

// fakeDriver is a minimal in-memory shared.DiskInterface used to exercise
// command handlers without a real filesystem.
type fakeDriver struct {
	files map[string]*memFile
	dirs  map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{files: make(map[string]*memFile), dirs: map[string]bool{"": true}}
}

func (d *fakeDriver) FileExists(_ *shared.TreeConnection, path string) (shared.ExistsState, error) {
	if d.dirs[path] {
		return shared.DirectoryExists, nil
	}
	if _, ok := d.files[path]; ok {
		return shared.FileExists, nil
	}
	return shared.NotExist, nil
}

func (d *fakeDriver) OpenFile(_ *shared.TreeConnection, path string, _ bool) (shared.NetworkFile, error) {
	f, ok := d.files[path]
	if !ok {
		return nil, shared.NewEngineError(shared.KindNotFound, "open", nil)
	}
	return f, nil
}

func (d *fakeDriver) CreateFile(_ *shared.TreeConnection, path string, dir bool, _ bool) (shared.NetworkFile, error) {
	f := &memFile{path: path, dir: dir}
	d.files[path] = f
	return f, nil
}

func (d *fakeDriver) CreateDirectory(_ *shared.TreeConnection, path string) error {
	d.dirs[path] = true
	return nil
}

func (d *fakeDriver) DeleteFile(_ *shared.TreeConnection, path string) error {
	delete(d.files, path)
	return nil
}

func (d *fakeDriver) DeleteDirectory(_ *shared.TreeConnection, path string) error {
	delete(d.dirs, path)
	return nil
}

func (d *fakeDriver) RenameFile(_ *shared.TreeConnection, oldPath, newPath string) error {
	f, ok := d.files[oldPath]
	if !ok {
		return shared.NewEngineError(shared.KindNotFound, "rename", nil)
	}
	delete(d.files, oldPath)
	f.path = newPath
	d.files[newPath] = f
	return nil
}

func (d *fakeDriver) ReadFile(file shared.NetworkFile, buf []byte, filePos int64) (int, error) {
	f := file.(*memFile)
	if filePos >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[filePos:])
	return n, nil
}

func (d *fakeDriver) WriteFile(file shared.NetworkFile, buf []byte, filePos int64) error {
	f := file.(*memFile)
	end := filePos + int64(len(buf))
	if int64(len(f.data)) < end {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[filePos:], buf)
	return nil
}

func (d *fakeDriver) CloseFile(_ shared.NetworkFile) error { return nil }

func (d *fakeDriver) StartSearch(_ *shared.TreeConnection, _, _ string) (shared.SearchHandle, error) {
	return nil, shared.NewEngineError(shared.KindInvalidArgument, "search", nil)
}

func (d *fakeDriver) GetFileInformation(_ *shared.TreeConnection, path string) (shared.FileInfo, error) {
	if f, ok := d.files[path]; ok {
		return shared.FileInfo{Name: path, Size: int64(len(f.data)), ModTime: time.Unix(0, 0)}, nil
	}
	return shared.FileInfo{}, shared.NewEngineError(shared.KindNotFound, "stat", nil)
}

func (d *fakeDriver) SetFileInformation(_ *shared.TreeConnection, _ string, _ shared.FileInfo) error {
	return nil
}

func newTestRegistry(t *testing.T) *shared.Registry {
	t.Helper()
	reg := shared.NewRegistry()
	require.NoError(t, reg.AddShare(&shared.SharedDevice{Name: "share1", Driver: newFakeDriver()}))
	require.NoError(t, reg.AddShare(&shared.SharedDevice{Name: "share2", Driver: newFakeDriver()}))
	return reg
}

func TestEngineResolve(t *testing.T) {
	reg := newTestRegistry(t)
	eng := &Engine{Registry: reg, Gate: shared.AllowAllGate{}}
	sess := &Session{cwd: RootPath()}
	sess.treeConns = shared.NewTreeConnectionCache(sess, eng.Gate)

	t.Run("RootIsNotFound", func(t *testing.T) {
		_, err := eng.resolve(sess, "")
		require.Error(t, err)
		assert.Equal(t, shared.KindNotFound, shared.AsEngineError(err).Kind)
	})

	t.Run("UnknownShareIsNotFound", func(t *testing.T) {
		_, err := eng.resolve(sess, "/missing/x")
		require.Error(t, err)
	})

	t.Run("ResolvesIntoShare", func(t *testing.T) {
		target, err := eng.resolve(sess, "/share1/a/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "share1", target.share.Name)
		assert.Equal(t, `a\b.txt`, target.sharePath)
		assert.True(t, target.tree.HasWriteAccess())
	})
}

func TestLoginGating(t *testing.T) {
	sess := &Session{login: LoginUnauth}

	allowedWhenUnauth := []string{"USER", "PASS", "QUIT", "FEAT", "AUTH", "PBSZ", "PROT", "NOOP", "SYST"}
	for _, v := range allowedWhenUnauth {
		assert.True(t, sess.VerbAllowed(v), "expected %s allowed pre-auth", v)
	}

	gated := []string{"LIST", "RETR", "STOR", "CWD", "PASV", "DELE", "MKD"}
	for _, v := range gated {
		assert.False(t, sess.VerbAllowed(v), "expected %s gated pre-auth", v)
	}

	sess.login = LoginAuthed
	for _, v := range gated {
		assert.True(t, sess.VerbAllowed(v), "expected %s allowed post-auth", v)
	}
}

// TestPollAbort_DetectsPipelinedAbort exercises the fix for ABOR being
// unreachable while a transfer loop blocks the command loop: pollAbort
// peeks the control socket directly from inside that loop.
func TestPollAbort_DetectsPipelinedAbort(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	dcm := NewDataChannelManager(0, 0, "")
	sess := NewSession(serverConn, dcm, shared.AllowAllGate{})
	c := &Connection{conn: serverConn, session: sess, buf: make([]byte, initialCommandBuffer)}

	go func() {
		_, _ = clientConn.Write([]byte("ABOR\r\n"))
	}()

	require.Eventually(t, func() bool {
		c.pollAbort()
		return sess.ConsumeAbort()
	}, time.Second, 5*time.Millisecond, "expected pollAbort to observe a pipelined ABOR")
}

// TestPollAbort_IgnoresOtherCommands confirms a non-ABOR command pipelined
// mid-transfer is dropped rather than setting the abort flag.
func TestPollAbort_IgnoresOtherCommands(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	dcm := NewDataChannelManager(0, 0, "")
	sess := NewSession(serverConn, dcm, shared.AllowAllGate{})
	c := &Connection{conn: serverConn, session: sess, buf: make([]byte, initialCommandBuffer)}

	go func() {
		_, _ = clientConn.Write([]byte("NOOP\r\n"))
	}()

	time.Sleep(20 * time.Millisecond)
	c.pollAbort()
	assert.False(t, sess.ConsumeAbort(), "expected a non-ABOR command not to set the abort flag")
}

func TestDataSessionReplaceReleasesPrevious(t *testing.T) {
	dcm := NewDataChannelManager(0, 0, "")
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	sess := NewSession(serverConn, dcm, shared.AllowAllGate{})

	first, err := dcm.AllocatePassive("127.0.0.1")
	require.NoError(t, err)
	sess.ReplaceDataSession(first)

	second, err := dcm.AllocatePassive("127.0.0.1")
	require.NoError(t, err)
	sess.ReplaceDataSession(second)

	dcm.mu.Lock()
	_, firstStillTracked := dcm.table[first.localPort]
	dcm.mu.Unlock()
	assert.False(t, firstStillTracked, "replacing the data session must release the previous listener")
}
