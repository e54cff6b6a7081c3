package ftp

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is an FTP response: a status code plus one or more text lines.
// Framing: single line is "NNN <text>\r\n"; multi-line is
// "NNN-<text>\r\n" for every line but the last, which is "NNN <text>\r\n".
type Reply struct {
	Code  int
	Lines []string
}

func NewReply(code int, text string) Reply {
	return Reply{Code: code, Lines: []string{text}}
}

func NewMultilineReply(code int, lines ...string) Reply {
	return Reply{Code: code, Lines: lines}
}

func (r Reply) Render() string {
	if len(r.Lines) <= 1 {
		text := ""
		if len(r.Lines) == 1 {
			text = r.Lines[0]
		}
		return fmt.Sprintf("%d %s\r\n", r.Code, text)
	}

	var b strings.Builder
	for i, line := range r.Lines {
		if i == len(r.Lines)-1 {
			fmt.Fprintf(&b, "%d %s\r\n", r.Code, line)
		} else {
			fmt.Fprintf(&b, "%d-%s\r\n", r.Code, line)
		}
	}
	return b.String()
}

func (s *Session) sendReply(r Reply) error {
	_, err := s.ioWriter().Write([]byte(r.Render()))
	return err
}

func passiveReplyText(host string, port int) string {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		parts = []string{"0", "0", "0", "0"}
	}
	p1 := port / 256
	p2 := port % 256
	return fmt.Sprintf("Entering Passive Mode (%s,%s,%s,%s,%d,%d)", parts[0], parts[1], parts[2], parts[3], p1, p2)
}

func extendedPassiveReplyText(port int) string {
	return fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port)
}

// parsePORT parses the "h,h,h,h,p,p" argument of PORT.
func parsePORT(arg string) (host string, port int, err error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("malformed PORT argument %q", arg)
	}
	host = strings.Join(parts[:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", 0, fmt.Errorf("malformed PORT port in %q", arg)
	}
	return host, p1*256 + p2, nil
}

// parseEPRT parses the "|af|addr|port|" argument of EPRT. af 1 = IPv4, 2 = IPv6.
func parseEPRT(arg string) (af int, host string, port int, err error) {
	if len(arg) < 2 {
		return 0, "", 0, fmt.Errorf("malformed EPRT argument %q", arg)
	}
	delim := arg[0]
	parts := strings.Split(arg[1:len(arg)-1], string(delim))
	if len(parts) != 3 {
		return 0, "", 0, fmt.Errorf("malformed EPRT argument %q", arg)
	}
	af, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed EPRT address family in %q", arg)
	}
	port, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, "", 0, fmt.Errorf("malformed EPRT port in %q", arg)
	}
	return af, parts[1], port, nil
}
