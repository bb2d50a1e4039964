// SPDX-License-Identifier: GPL-3.0-or-later

// Package spamc implements the client side of the SPAMC/1.5 protocol
// spoken by a SpamAssassin-compatible spamd. One TCP connection per call,
// no retries; callers wanting resilience wrap the client.
package spamc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mailsweep/mailsweep/domain"
	"github.com/mailsweep/mailsweep/log"

	"github.com/sirupsen/logrus"
)

const protocolId = "SPAMC/1.5"

var (
	ErrNoStatusLine      = errors.New("no status line from spamd")
	ErrMalformedStatus   = errors.New("malformed spamd status line")
	ErrStatusNotOk       = errors.New("spamd returned non-zero status")
	ErrMissingSpamHeader = errors.New("missing Spam header in response")
	ErrInvalidSpamHeader = errors.New("cannot parse Spam header")
	ErrTruncatedBody     = errors.New("truncated response body")
)

type Client struct {
	host string
	port int

	// optional spamd User header, selects per-user config on the server
	user string

	connectTimeout time.Duration
	readTimeout    time.Duration

	l *logrus.Logger
}

func NewClient(host string, port int, user string, connectTimeout, readTimeout time.Duration) *Client {
	return &Client{
		host:           host,
		port:           port,
		user:           user,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		l:              log.Logger(log.LOG_SPAMC),
	}
}

// Check performs a fast spam check (spamd CHECK). The verdict is read
// from the Spam response header, no body is requested.
func (c *Client) Check(rawMail []byte) (*domain.SpamVerdict, error) {
	resp, err := c.roundTrip("CHECK", rawMail)
	if err != nil {
		return nil, err
	}

	spam, ok := resp.headers["spam"]
	if !ok {
		return nil, ErrMissingSpamHeader
	}

	verdict, err := parseSpamHeader(spam)
	if err != nil {
		return nil, err
	}
	verdict.Raw = resp.raw

	c.l.WithFields(logrus.Fields{"isspam": verdict.IsSpam, "score": verdict.Score, "threshold": verdict.Threshold}).Debug("Checked mail")
	return verdict, nil
}

// SymbolsResult carries the rule symbols that contributed to the score.
type SymbolsResult struct {
	Verdict *domain.SpamVerdict
	Symbols []string
}

// Symbols asks spamd which rules fired (spamd SYMBOLS). The symbol list
// is the response body, comma- or whitespace-separated.
func (c *Client) Symbols(rawMail []byte) (*SymbolsResult, error) {
	resp, err := c.roundTrip("SYMBOLS", rawMail)
	if err != nil {
		return nil, err
	}

	result := &SymbolsResult{}
	if spam, ok := resp.headers["spam"]; ok {
		verdict, err := parseSpamHeader(spam)
		if err != nil {
			return nil, err
		}
		verdict.Raw = resp.raw
		result.Verdict = verdict
	}

	for _, tok := range strings.FieldsFunc(string(resp.body), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\r' || r == '\n' || r == '\t'
	}) {
		result.Symbols = append(result.Symbols, tok)
	}

	return result, nil
}

// Ping checks that spamd is reachable and speaking the protocol.
func (c *Client) Ping() error {
	_, err := c.roundTrip("PING", nil)
	return err
}

type response struct {
	protocol   string
	code       int
	statusText string
	headers    map[string]string
	body       []byte
	raw        string
}

func (c *Client) roundTrip(verb string, body []byte) (*response, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)), c.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to spamd: %w", err)
	}
	defer conn.Close()

	err = conn.SetDeadline(time.Now().Add(c.readTimeout))
	if err != nil {
		return nil, fmt.Errorf("could not set deadline: %w", err)
	}

	req := &bytes.Buffer{}
	fmt.Fprintf(req, "%s %s\r\n", verb, protocolId)
	// PING is the only bodyless verb; everything else declares its
	// length even for an empty body, spamd rejects the header's absence
	if verb != "PING" {
		fmt.Fprintf(req, "Content-length: %d\r\n", len(body))
	}
	if c.user != "" {
		fmt.Fprintf(req, "User: %s\r\n", c.user)
	}
	req.WriteString("\r\n")
	req.Write(body)

	_, err = conn.Write(req.Bytes())
	if err != nil {
		return nil, fmt.Errorf("could not write request: %w", err)
	}

	resp, err := readResponse(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}

	if resp.code != 0 {
		return nil, fmt.Errorf("%w: %d %s", ErrStatusNotOk, resp.code, resp.statusText)
	}

	return resp, nil
}

func readResponse(r *bufio.Reader) (*response, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, ErrNoStatusLine
	}

	resp, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	raw := &strings.Builder{}
	raw.WriteString(statusLine)
	raw.WriteString("\r\n")

	resp.headers = map[string]string{}
	for {
		line, err := readLine(r)
		if err == io.EOF {
			// spamd closes after the status line on PING
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read response headers: %w", err)
		}
		if line == "" {
			break
		}
		raw.WriteString(line)
		raw.WriteString("\r\n")

		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		resp.headers[name] = strings.TrimSpace(line[idx+1:])
	}
	raw.WriteString("\r\n")

	if cl, ok := resp.headers["content-length"]; ok {
		length, err := strconv.Atoi(cl)
		if err != nil || length < 0 {
			return nil, fmt.Errorf("invalid Content-length %q", cl)
		}
		resp.body = make([]byte, length)
		_, err = io.ReadFull(r, resp.body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncatedBody, err)
		}
		raw.Write(resp.body)
	}

	resp.raw = raw.String()
	return resp, nil
}

// parseStatusLine expects "SPAMD/1.5 0 EX_OK".
func parseStatusLine(line string) (*response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "SPAMD/") {
		return nil, fmt.Errorf("%w: %q", ErrMalformedStatus, line)
	}

	code, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad code in %q", ErrMalformedStatus, line)
	}

	return &response{
		protocol:   parts[0],
		code:       code,
		statusText: strings.TrimSpace(parts[2]),
	}, nil
}

// parseSpamHeader parses the lenient shape
// "<True|False> ; <score> / <threshold>" with optional score=/required=
// prefixes on the two numbers.
func parseSpamHeader(value string) (*domain.SpamVerdict, error) {
	v := strings.TrimSpace(value)

	verdict := &domain.SpamVerdict{}
	switch {
	case len(v) >= 4 && strings.EqualFold(v[:4], "true"):
		verdict.IsSpam = true
		v = strings.TrimSpace(v[4:])
	case len(v) >= 5 && strings.EqualFold(v[:5], "false"):
		verdict.IsSpam = false
		v = strings.TrimSpace(v[5:])
	default:
		return nil, fmt.Errorf("%w: no boolean in %q", ErrInvalidSpamHeader, value)
	}

	v = strings.TrimSpace(strings.TrimPrefix(v, ";"))

	slash := strings.IndexByte(v, '/')
	if slash < 0 {
		return nil, fmt.Errorf("%w: no score/threshold in %q", ErrInvalidSpamHeader, value)
	}

	left := strings.TrimSpace(strings.Replace(v[:slash], "score=", "", 1))
	right := strings.TrimSpace(strings.Replace(v[slash+1:], "required=", "", 1))

	score, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad score in %q", ErrInvalidSpamHeader, value)
	}
	threshold, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad threshold in %q", ErrInvalidSpamHeader, value)
	}

	verdict.Score = score
	verdict.Threshold = threshold
	return verdict, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
