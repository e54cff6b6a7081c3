package ftp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/shared"
)

// transferBlockSize is the chunk size RETR/STOR stream in.
const transferBlockSize = 64 * 1024

// dispatch runs one command to completion and returns the reply to send,
// plus whether the session should close after sending it (QUIT).
func (c *Connection) dispatch(verb, arg string) (Reply, bool) {
	if !c.session.VerbAllowed(verb) {
		return NewReply(530, "Please login with USER and PASS"), false
	}

	handler, ok := commandTable[verb]
	if !ok {
		return NewReply(502, "Command not implemented"), false
	}

	return handler(c, verb, arg)
}

type commandFunc func(c *Connection, verb, arg string) (Reply, bool)

var commandTable map[string]commandFunc

func init() {
	commandTable = map[string]commandFunc{
		"USER": cmdUSER, "PASS": cmdPASS, "QUIT": cmdQUIT,
		"TYPE": cmdTYPE,
		"PORT": cmdPORT, "EPRT": cmdPORT,
		"PASV": cmdPASV, "EPSV": cmdPASV,
		"REST": cmdREST,
		"RETR": cmdRETR,
		"STOR": cmdSTOR, "APPE": cmdSTOR,
		"LIST": cmdLIST, "NLST": cmdLIST,
		"MLSD": cmdMLSD, "MLST": cmdMLST,
		"CWD": cmdCWD, "XCWD": cmdCWD,
		"CDUP": cmdCDUP, "XCUP": cmdCDUP,
		"PWD": cmdPWD, "XPWD": cmdPWD,
		"MKD": cmdMKD, "XMKD": cmdMKD,
		"RMD": cmdRMD, "XRMD": cmdRMD,
		"DELE": cmdDELE,
		"RNFR": cmdRNFR, "RNTO": cmdRNTO,
		"SIZE": cmdSIZE,
		"MDTM": cmdMDTM, "MFMT": cmdMDTM,
		"SYST": cmdSYST, "STAT": cmdSTAT, "HELP": cmdHELP,
		"NOOP": cmdNOOP, "FEAT": cmdFEAT, "OPTS": cmdOPTS,
		"ABOR": cmdABOR,
		"AUTH": cmdAUTH, "PBSZ": cmdPBSZ, "PROT": cmdPROT, "CCC": cmdCCC,
		"SITE": cmdSITE,
		"STRU": cmdSTRU, "MODE": cmdMODE, "ALLO": cmdALLO,
	}
}

func cmdUSER(c *Connection, verb, arg string) (Reply, bool) {
	if arg == "" {
		return NewReply(501, "USER requires a name"), false
	}
	if c.engine.TLSConfig != nil && c.engine.TLSConfig.RequireFTPSForLogin && c.session.tls == nil {
		return NewReply(530, "This server requires FTPS for login"), false
	}
	c.session.pendingUser = arg
	c.session.login = LoginUserPending
	return NewReply(331, "Password required for "+arg), false
}

func cmdPASS(c *Connection, verb, arg string) (Reply, bool) {
	if c.session.login != LoginUserPending {
		return NewReply(500, "Login with USER first"), false
	}

	info := shared.ClientInfo{Username: c.session.pendingUser}
	ok := c.engine.Authenticator == nil || c.engine.Authenticator.AuthenticateUser(info, c.session.remoteAddr)
	if !ok {
		c.session.login = LoginUnauth
		return NewReply(530, "Login incorrect"), false
	}

	c.session.login = LoginAuthed
	c.session.clientInfo = info
	c.session.visibleShares = c.engine.Gate.VisibleShares(c.session, c.engine.Registry.Shares())
	return NewReply(230, "User logged in"), false
}

func cmdQUIT(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(221, "Goodbye"), true
}

func cmdTYPE(c *Connection, verb, arg string) (Reply, bool) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "A":
		c.session.binaryMode = false
		return NewReply(200, "Type set to A"), false
	case "I", "L", "L 8":
		c.session.binaryMode = true
		return NewReply(200, "Type set to I"), false
	default:
		return NewReply(501, "Unsupported TYPE"), false
	}
}

func cmdPORT(c *Connection, verb, arg string) (Reply, bool) {
	var host string
	var port int
	var err error

	if strings.HasPrefix(arg, "|") {
		_, host, port, err = parseEPRT(arg)
	} else {
		host, port, err = parsePORT(arg)
	}
	if err != nil {
		return NewReply(501, err.Error()), false
	}

	addr := &net.TCPAddr{IP: net.ParseIP(host), Port: port}
	ds := c.engine.DCM.AllocateActive(addr)
	c.session.ReplaceDataSession(ds)
	return NewReply(200, "PORT command successful"), false
}

func cmdPASV(c *Connection, verb, arg string) (Reply, bool) {
	bindHost, _, _ := net.SplitHostPort(c.conn.LocalAddr().String())
	ds, err := c.engine.DCM.AllocatePassive(bindHost)
	if err != nil {
		return errorReply(err), false
	}
	c.session.ReplaceDataSession(ds)

	advertiseHost := c.engine.DCM.AdvertiseHost(c.conn.LocalAddr())

	if verb == "EPSV" {
		return NewReply(229, extendedPassiveReplyText(ds.localPort)), false
	}
	return NewReply(227, passiveReplyText(advertiseHost, ds.localPort)), false
}

func cmdREST(c *Connection, verb, arg string) (Reply, bool) {
	pos, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || pos < 0 {
		return NewReply(501, "REST requires a non-negative integer"), false
	}
	c.session.restartPos = pos
	return NewReply(350, "Restarting at "+arg), false
}

func cmdRETR(c *Connection, verb, arg string) (Reply, bool) {
	if arg == "" {
		return NewReply(501, "RETR requires a path"), false
	}
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	if !target.tree.HasReadAccess() {
		return NewReply(550, "Permission denied"), false
	}

	file, err := target.share.Driver.OpenFile(target.tree, target.sharePath, false)
	if err != nil {
		return errorReply(err), false
	}
	defer func() { _ = target.share.Driver.CloseFile(file) }()

	if err := c.session.sendReply(NewReply(150, "Opening data connection")); err != nil {
		return Reply{}, true
	}

	ds := c.session.CurrentDataSession()
	if ds == nil {
		return NewReply(425, "Use PORT or PASV first"), false
	}
	socket, err := c.engine.DCM.GetSocket(ds)
	if err != nil {
		return errorReply(err), false
	}
	defer c.engine.DCM.Release(ds)

	pos := c.session.restartPos
	c.session.restartPos = 0
	buf := make([]byte, transferBlockSize)

	ds.transferInProgress.Store(true)
	defer ds.transferInProgress.Store(false)

	for {
		c.pollAbort()
		if c.session.ConsumeAbort() || ds.Aborted() {
			return NewReply(426, "Transfer aborted"), false
		}

		n, rerr := target.share.Driver.ReadFile(file, buf, pos)
		if n > 0 {
			if _, werr := socket.Write(buf[:n]); werr != nil {
				return NewReply(426, "Connection closed; transfer aborted"), false
			}
			ds.bytesTransferred.Add(int64(n))
			pos += int64(n)
		}
		if rerr != nil {
			break // EOF or driver-reported end of file
		}
		if n == 0 {
			break
		}
	}

	return NewReply(226, "Transfer complete"), false
}

func cmdSTOR(c *Connection, verb, arg string) (Reply, bool) {
	if arg == "" {
		return NewReply(501, "STOR requires a path"), false
	}
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	if !target.tree.HasWriteAccess() {
		return NewReply(550, "Permission denied"), false
	}

	existed, _ := target.share.Driver.FileExists(target.tree, target.sharePath)
	fileExistedBefore := existed != shared.NotExist

	var file shared.NetworkFile
	if fileExistedBefore {
		file, err = target.share.Driver.OpenFile(target.tree, target.sharePath, true)
	} else {
		file, err = target.share.Driver.CreateFile(target.tree, target.sharePath, false, true)
	}
	if err != nil {
		return errorReply(err), false
	}

	if err := c.session.sendReply(NewReply(150, "Opening data connection")); err != nil {
		return Reply{}, true
	}

	ds := c.session.CurrentDataSession()
	if ds == nil {
		_ = target.share.Driver.CloseFile(file)
		return NewReply(425, "Use PORT or PASV first"), false
	}
	socket, err := c.engine.DCM.GetSocket(ds)
	if err != nil {
		_ = target.share.Driver.CloseFile(file)
		return errorReply(err), false
	}
	defer c.engine.DCM.Release(ds)

	pos := int64(0)
	buf := make([]byte, transferBlockSize)
	ds.transferInProgress.Store(true)
	defer ds.transferInProgress.Store(false)

	aborted := false
	var writeErr error
	for {
		c.pollAbort()
		if c.session.ConsumeAbort() || ds.Aborted() {
			aborted = true
			break
		}
		n, rerr := socket.Read(buf)
		if n > 0 {
			if werr := target.share.Driver.WriteFile(file, buf[:n], pos); werr != nil {
				writeErr = werr
				break
			}
			ds.bytesTransferred.Add(int64(n))
			pos += int64(n)
		}
		if rerr != nil {
			break
		}
	}

	closeErr := target.share.Driver.CloseFile(file)

	if aborted || writeErr != nil || closeErr != nil {
		if !fileExistedBefore {
			_ = target.share.Driver.DeleteFile(target.tree, target.sharePath)
		}
		if aborted {
			return NewReply(426, "Transfer aborted"), false
		}
		return NewReply(451, "Requested action aborted: local error in processing"), false
	}

	return NewReply(226, "Transfer complete"), false
}

func cmdLIST(c *Connection, verb, arg string) (Reply, bool) {
	return streamListing(c, arg, false)
}

func cmdMLSD(c *Connection, verb, arg string) (Reply, bool) {
	return streamListing(c, arg, true)
}

// streamListing implements LIST/NLST (both write the same long form; NLST
// has no names-only output) and MLSD (machine format with facts), all of
// which share the "send 150, open data socket, write listing, 226/451" shape.
func streamListing(c *Connection, arg string, machineFormat bool) (Reply, bool) {
	dirPath := arg
	var entries []shared.FileInfo
	var err error

	if dirPath == "" && c.session.cwd.AtRoot() {
		for _, s := range c.session.visibleShares {
			entries = append(entries, shared.FileInfo{Name: s.Name, IsDirectory: true})
		}
	} else {
		target, rerr := c.engine.resolve(c.session, dirPath)
		if rerr != nil {
			return errorReply(rerr), false
		}
		if !target.tree.HasReadAccess() {
			return NewReply(550, "Permission denied"), false
		}
		search, serr := target.share.Driver.StartSearch(target.tree, target.sharePath, "*")
		if serr != nil {
			return errorReply(serr), false
		}
		defer func() { _ = search.Close() }()
		for {
			info, ok, nerr := search.Next()
			if nerr != nil {
				err = nerr
				break
			}
			if !ok {
				break
			}
			entries = append(entries, info)
		}
	}
	if err != nil {
		return errorReply(err), false
	}

	if serr := c.session.sendReply(NewReply(150, "Opening data connection")); serr != nil {
		return Reply{}, true
	}
	ds := c.session.CurrentDataSession()
	if ds == nil {
		return NewReply(425, "Use PORT or PASV first"), false
	}
	socket, serr := c.engine.DCM.GetSocket(ds)
	if serr != nil {
		return errorReply(serr), false
	}
	defer c.engine.DCM.Release(ds)

	var b strings.Builder
	for _, e := range entries {
		if machineFormat {
			b.WriteString(renderFacts(e, c.session.factMask))
			b.WriteByte(' ')
			b.WriteString(e.Name)
		} else {
			b.WriteString(renderListLine(e))
		}
		b.WriteString("\r\n")
	}
	if _, werr := socket.Write([]byte(b.String())); werr != nil {
		return NewReply(426, "Connection closed; transfer aborted"), false
	}

	return NewReply(226, "Transfer complete"), false
}

func cmdMLST(c *Connection, verb, arg string) (Reply, bool) {
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	info, err := target.share.Driver.GetFileInformation(target.tree, target.sharePath)
	if err != nil {
		return errorReply(err), false
	}
	line := " " + renderFacts(info, c.session.factMask) + " " + info.Name
	return NewMultilineReply(250, "Listing "+arg, line, "End"), false
}

// renderFacts formats the MLST/MLSD fact string selected by mask, from the
// fact list: size, modify, create, type, unique, perm, media-type.
func renderFacts(info shared.FileInfo, mask FactMask) string {
	var b strings.Builder
	if mask&FactSize != 0 && !info.IsDirectory {
		fmt.Fprintf(&b, "size=%d;", info.Size)
	}
	if mask&FactModify != 0 {
		fmt.Fprintf(&b, "modify=%s;", info.ModTime.UTC().Format("20060102150405"))
	}
	if mask&FactCreate != 0 {
		fmt.Fprintf(&b, "create=%s;", info.CreateTime.UTC().Format("20060102150405"))
	}
	if mask&FactType != 0 {
		if info.IsDirectory {
			b.WriteString("type=dir;")
		} else {
			b.WriteString("type=file;")
		}
	}
	if mask&FactUnique != 0 && info.UniqueID != 0 {
		fmt.Fprintf(&b, "unique=%x;", info.UniqueID)
	}
	if mask&FactPerm != 0 {
		if info.ReadOnly {
			b.WriteString("perm=r;")
		} else {
			b.WriteString("perm=rw;")
		}
	}
	if mask&FactMediaType != 0 && !info.IsDirectory {
		b.WriteString("media-type=application/octet-stream;")
	}
	return b.String()
}

func renderListLine(info shared.FileInfo) string {
	typ := byte('-')
	if info.IsDirectory {
		typ = 'd'
	}
	perm := "rw-r--r--"
	if info.ReadOnly {
		perm = "r--r--r--"
	}
	return fmt.Sprintf("%c%s 1 owner group %12d %s %s",
		typ, perm, info.Size, info.ModTime.Format("Jan _2 15:04"), info.Name)
}

func cmdCWD(c *Connection, verb, arg string) (Reply, bool) {
	next := c.session.cwd.CWD(arg)
	if !next.AtRoot() {
		target, err := c.engine.resolve(c.session, arg)
		if err != nil {
			return errorReply(err), false
		}
		state, err := target.share.Driver.FileExists(target.tree, target.sharePath)
		if err != nil {
			return errorReply(err), false
		}
		if state != shared.DirectoryExists {
			return NewReply(550, "Not a directory"), false
		}
	}
	c.session.cwd = next
	return NewReply(250, "Directory successfully changed"), false
}

func cmdCDUP(c *Connection, verb, _ string) (Reply, bool) {
	return cmdCWD(c, verb, "..")
}

func cmdPWD(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(257, fmt.Sprintf("%q is the current directory", c.session.cwd.FTPPath)), false
}

func cmdMKD(c *Connection, verb, arg string) (Reply, bool) {
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	if !target.tree.HasWriteAccess() {
		return NewReply(550, "Permission denied"), false
	}
	if err := target.share.Driver.CreateDirectory(target.tree, target.sharePath); err != nil {
		return errorReply(err), false
	}
	return NewReply(257, fmt.Sprintf("%q created", target.path.FTPPath)), false
}

func cmdRMD(c *Connection, verb, arg string) (Reply, bool) {
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	if target.sharePath == "" || target.sharePath == `\` {
		return NewReply(550, "Cannot remove share root"), false
	}
	if !target.tree.HasWriteAccess() {
		return NewReply(550, "Permission denied"), false
	}
	if err := target.share.Driver.DeleteDirectory(target.tree, target.sharePath); err != nil {
		return errorReply(err), false
	}
	return NewReply(250, "Directory removed"), false
}

func cmdDELE(c *Connection, verb, arg string) (Reply, bool) {
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	if !target.tree.HasWriteAccess() {
		return NewReply(550, "Permission denied"), false
	}
	if err := target.share.Driver.DeleteFile(target.tree, target.sharePath); err != nil {
		return errorReply(err), false
	}
	return NewReply(250, "File deleted"), false
}

func cmdRNFR(c *Connection, verb, arg string) (Reply, bool) {
	if arg == "" {
		return NewReply(501, "RNFR requires a path"), false
	}
	c.session.renameFrom = arg
	return NewReply(350, "Ready for RNTO"), false
}

func cmdRNTO(c *Connection, verb, arg string) (Reply, bool) {
	if c.session.renameFrom == "" {
		return NewReply(503, "RNFR required first"), false
	}
	from := c.session.renameFrom
	c.session.renameFrom = ""

	src, err := c.engine.resolve(c.session, from)
	if err != nil {
		return errorReply(err), false
	}
	dst, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}

	// Renaming across different shares is always rejected, even for a
	// case-only rename.
	if src.share.Name != dst.share.Name {
		return NewReply(550, "Cannot rename across shares"), false
	}
	if !src.tree.HasWriteAccess() {
		return NewReply(550, "Permission denied"), false
	}

	if err := src.share.Driver.RenameFile(src.tree, src.sharePath, dst.sharePath); err != nil {
		return errorReply(err), false
	}
	return NewReply(250, "Rename successful"), false
}

func cmdSIZE(c *Connection, verb, arg string) (Reply, bool) {
	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	info, err := target.share.Driver.GetFileInformation(target.tree, target.sharePath)
	if err != nil {
		return errorReply(err), false
	}
	return NewReply(213, strconv.FormatInt(info.Size, 10)), false
}

func cmdMDTM(c *Connection, verb, arg string) (Reply, bool) {
	fields := strings.SplitN(arg, " ", 2)
	if len(fields) == 2 && len(fields[0]) >= 14 {
		// Set form: "YYYYMMDDHHMMSS[.mmm] <path>"
		ts, err := time.Parse("20060102150405", fields[0][:14])
		if err != nil {
			return NewReply(501, "Malformed timestamp"), false
		}
		target, rerr := c.engine.resolve(c.session, fields[1])
		if rerr != nil {
			return errorReply(rerr), false
		}
		info, rerr := target.share.Driver.GetFileInformation(target.tree, target.sharePath)
		if rerr != nil {
			return errorReply(rerr), false
		}
		info.ModTime = ts
		if rerr := target.share.Driver.SetFileInformation(target.tree, target.sharePath, info); rerr != nil {
			return errorReply(rerr), false
		}
		return NewReply(213, fields[0]), false
	}

	target, err := c.engine.resolve(c.session, arg)
	if err != nil {
		return errorReply(err), false
	}
	info, err := target.share.Driver.GetFileInformation(target.tree, target.sharePath)
	if err != nil {
		return errorReply(err), false
	}
	return NewReply(213, info.ModTime.UTC().Format("20060102150405")), false
}

func cmdSYST(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(215, "UNIX Type: L8"), false
}

func cmdSTAT(c *Connection, verb, arg string) (Reply, bool) {
	if arg == "" {
		return NewMultilineReply(211, "DittoFS FTP server status", "End of status"), false
	}
	return cmdLIST(c, verb, arg)
}

func cmdHELP(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(214, "Help: see RFC 959"), false
}

func cmdNOOP(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(200, "NOOP ok"), false
}

func cmdFEAT(c *Connection, verb, _ string) (Reply, bool) {
	return NewMultilineReply(211, "Features:", " UTF8", " MLST size*;modify*;create*;type*;unique*;perm*;media-type*", " MDTM", " SIZE", " REST STREAM", "End"), false
}

func cmdOPTS(c *Connection, verb, arg string) (Reply, bool) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return NewReply(501, "OPTS requires an argument"), false
	}
	switch strings.ToUpper(fields[0]) {
	case "UTF8":
		if len(fields) > 1 && strings.EqualFold(fields[1], "OFF") {
			c.session.utf8 = false
		} else {
			c.session.utf8 = true
		}
		return NewReply(200, "UTF8 set"), false
	case "MLST":
		if len(fields) > 1 {
			c.session.factMask = parseFactList(fields[1])
		}
		return NewReply(200, "MLST OPTS "+arg), false
	default:
		return NewReply(501, "Unknown OPTS option"), false
	}
}

func parseFactList(list string) FactMask {
	var mask FactMask
	for _, f := range strings.Split(list, ";") {
		switch strings.ToLower(f) {
		case "size":
			mask |= FactSize
		case "modify":
			mask |= FactModify
		case "create":
			mask |= FactCreate
		case "type":
			mask |= FactType
		case "unique":
			mask |= FactUnique
		case "perm":
			mask |= FactPerm
		case "media-type":
			mask |= FactMediaType
		}
	}
	return mask
}

func cmdABOR(c *Connection, verb, _ string) (Reply, bool) {
	ds := c.session.CurrentDataSession()
	if ds == nil {
		return NewReply(225, "No transfer in progress"), false
	}
	c.session.SetAbort()
	return NewReply(226, "ABOR command successful"), false
}

func cmdAUTH(c *Connection, verb, arg string) (Reply, bool) {
	if c.engine.TLSConfig == nil || !c.engine.TLSConfig.FTPSEnabled {
		return NewReply(502, "FTPS is not enabled"), false
	}
	switch strings.ToUpper(arg) {
	case "SSL", "TLS":
	default:
		return NewReply(504, "Unsupported AUTH type"), false
	}

	tlsCfg, err := loadTLSConfig(c.engine.TLSConfig.TLSCertFile, c.engine.TLSConfig.TLSKeyFile)
	if err != nil {
		logger.Error("ftp: failed to load TLS config", "error", err)
		return NewReply(431, "TLS not available"), false
	}

	// The 234 reply must go out in cleartext before the handshake starts.
	if err := c.session.sendReply(NewReply(234, "AUTH command ok, initializing TLS connection")); err != nil {
		return Reply{}, true
	}

	engine := newTLSEngine(c.conn, tlsCfg)
	if err := engine.Handshake(); err != nil {
		logger.Warn("ftp: TLS handshake failed", "error", err)
		return Reply{}, true
	}
	c.session.tls = engine

	return Reply{}, false // reply already sent
}

func cmdPBSZ(c *Connection, verb, arg string) (Reply, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return NewReply(501, "PBSZ requires a non-negative integer"), false
	}
	c.session.pbszSet = true
	return NewReply(200, "PBSZ="+arg), false
}

func cmdPROT(c *Connection, verb, arg string) (Reply, bool) {
	if !c.session.pbszSet {
		return NewReply(503, "PBSZ required first"), false
	}
	if strings.ToUpper(arg) != "C" {
		return NewReply(534, "Only PROT C is supported"), false
	}
	c.session.protectionLevel = 'C'
	return NewReply(200, "PROT C ok"), false
}

func cmdCCC(c *Connection, verb, _ string) (Reply, bool) {
	if c.session.tls == nil {
		return NewReply(533, "Not protected"), false
	}
	_ = c.session.tls.Close()
	c.session.tls = nil
	return NewReply(200, "Reverting to clear-text"), false
}

func cmdSITE(c *Connection, verb, arg string) (Reply, bool) {
	if c.engine.SiteHandler == nil {
		return NewReply(501, "SITE not supported"), false
	}
	return c.engine.SiteHandler(c.session, arg), false
}

func cmdSTRU(c *Connection, verb, arg string) (Reply, bool) {
	if strings.ToUpper(strings.TrimSpace(arg)) == "F" {
		return NewReply(200, "Structure set to F"), false
	}
	return NewReply(504, "Unsupported STRU"), false
}

func cmdMODE(c *Connection, verb, arg string) (Reply, bool) {
	if strings.ToUpper(strings.TrimSpace(arg)) == "S" {
		return NewReply(200, "Mode set to S"), false
	}
	return NewReply(504, "Unsupported MODE"), false
}

func cmdALLO(c *Connection, verb, _ string) (Reply, bool) {
	return NewReply(202, "ALLO not necessary"), false
}

func errorReply(err error) Reply {
	pe := MapError(err)
	return NewReply(int(pe.Code()), pe.Message())
}
