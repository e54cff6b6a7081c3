package ftp

import (
	"fmt"

	"github.com/marmos91/dittofs/pkg/shared"
)

// Engine bundles the collaborators every command handler needs: the share
// registry, the data-channel manager, the authenticator, the access
// gate, and an optional SITE delegate. One Engine is shared by every
// Session on an adapter.
type Engine struct {
	Registry      *shared.Registry
	DCM           *DataChannelManager
	Authenticator shared.FTPAuthenticator
	Gate          shared.AccessControlGate
	TLSConfig     *Config

	// SiteHandler, if set, implements the SITE command; nil means SITE
	// always returns 501.
	SiteHandler func(sess *Session, arg string) Reply
}

// resolvedTarget is the share + driver-facing path an FTP path argument
// resolves to.
type resolvedTarget struct {
	share     *shared.SharedDevice
	tree      *shared.TreeConnection
	sharePath string
	path      Path
}

// resolve turns a (possibly relative) FTP path argument into a share +
// share-relative path, without mutating the session's CWD. Returns a
// KindNotFound engine error if the target is the virtual root (no share
// selected) or names an unknown share.
func (e *Engine) resolve(sess *Session, arg string) (*resolvedTarget, error) {
	target := sess.cwd
	if arg != "" {
		target = sess.cwd.CWD(arg)
	}

	if target.AtRoot() {
		return nil, shared.NewEngineError(shared.KindNotFound, "ftp.resolve", fmt.Errorf("no share selected"))
	}

	share, ok := e.Registry.Share(target.ShareName)
	if !ok {
		return nil, shared.NewEngineError(shared.KindNotFound, "ftp.resolve", fmt.Errorf("unknown share %q", target.ShareName))
	}

	tree := sess.treeConns.GetTreeConnection(share)
	return &resolvedTarget{share: share, tree: tree, sharePath: target.SharePath, path: target}, nil
}
