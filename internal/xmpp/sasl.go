package xmpp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SASL mechanisms, in preference order. SCRAM-SHA-1 is preferred;
// PLAIN is only used when the server does not offer SCRAM.
const (
	MechScramSHA1 = "SCRAM-SHA-1"
	MechPlain     = "PLAIN"
)

// scramMinIterations is the RFC 5802 floor; servers announcing fewer
// rounds are either broken or hostile.
const scramMinIterations = 4096

var b64 = base64.StdEncoding

// PlainInitial encodes the RFC 4616 initial response: \0user\0pass.
func PlainInitial(username, password string) string {
	return b64.EncodeToString([]byte("\x00" + username + "\x00" + password))
}

// scramClient walks the SCRAM-SHA-1 exchange (RFC 5802). The client nonce
// is injectable so the published test vectors drive the exact byte flow.
type scramClient struct {
	username    string
	password    string
	clientNonce string

	clientFirstBare string
	serverSignature []byte
}

func newScramClient(username, password, nonce string) (*scramClient, error) {
	if nonce == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("xmpp: scram nonce: %w", err)
		}
		nonce = b64.EncodeToString(raw)
	}
	return &scramClient{username: username, password: password, clientNonce: nonce}, nil
}

// clientFirst returns the base64 client-first-message (GS2 header "n,,",
// no channel binding).
func (c *scramClient) clientFirst() string {
	c.clientFirstBare = "n=" + c.username + ",r=" + c.clientNonce
	return b64.EncodeToString([]byte("n,," + c.clientFirstBare))
}

// handleServerFirst validates the server-first-message and returns the
// base64 client-final-message carrying the proof.
func (c *scramClient) handleServerFirst(serverFirstB64 string) (string, error) {
	raw, err := b64.DecodeString(serverFirstB64)
	if err != nil {
		return "", fmt.Errorf("xmpp: scram challenge base64: %w", err)
	}
	serverFirst := string(raw)

	combinedNonce, saltB64, iterations, err := parseServerFirst(serverFirst)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(combinedNonce, c.clientNonce) {
		return "", &AuthError{Stage: "sasl", Detail: "server nonce does not extend client nonce"}
	}
	if iterations < scramMinIterations {
		return "", &AuthError{Stage: "sasl", Detail: fmt.Sprintf("iteration count %d below minimum %d", iterations, scramMinIterations)}
	}
	salt, err := b64.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("xmpp: scram salt base64: %w", err)
	}

	saltedPassword := pbkdf2.Key([]byte(c.password), salt, iterations, sha1.Size, sha1.New)
	clientKey := hmacSHA1(saltedPassword, []byte("Client Key"))
	storedKey := sha1.Sum(clientKey)
	serverKey := hmacSHA1(saltedPassword, []byte("Server Key"))

	// c=biws is base64("n,,") — the GS2 header echoed without binding.
	withoutProof := "c=biws,r=" + combinedNonce
	authMessage := c.clientFirstBare + "," + serverFirst + "," + withoutProof

	clientSignature := hmacSHA1(storedKey[:], []byte(authMessage))
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}
	c.serverSignature = hmacSHA1(serverKey, []byte(authMessage))

	clientFinal := withoutProof + ",p=" + b64.EncodeToString(proof)
	return b64.EncodeToString([]byte(clientFinal)), nil
}

// verifyServerFinal checks the server signature in the <success/> (or
// final challenge) payload, proving the server knew the password too.
func (c *scramClient) verifyServerFinal(serverFinalB64 string) error {
	if serverFinalB64 == "" {
		// Some servers omit the verifier in <success/>. Tolerated: the
		// TLS channel already authenticates the server.
		return nil
	}
	raw, err := b64.DecodeString(serverFinalB64)
	if err != nil {
		return fmt.Errorf("xmpp: scram server-final base64: %w", err)
	}
	v, ok := strings.CutPrefix(string(raw), "v=")
	if !ok {
		return &AuthError{Stage: "sasl", Detail: "server-final missing verifier"}
	}
	sig, err := b64.DecodeString(v)
	if err != nil {
		return fmt.Errorf("xmpp: scram verifier base64: %w", err)
	}
	if subtle.ConstantTimeCompare(sig, c.serverSignature) != 1 {
		return &AuthError{Stage: "sasl", Detail: "server signature mismatch"}
	}
	return nil
}

func parseServerFirst(msg string) (nonce, salt string, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt = part[2:]
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", "", 0, fmt.Errorf("xmpp: scram iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == "" || iterations == 0 {
		return "", "", 0, &AuthError{Stage: "sasl", Detail: "malformed server-first message: " + msg}
	}
	return nonce, salt, iterations, nil
}

func hmacSHA1(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ── Exchange drivers over the transport ──────────────────

// authenticatePlain runs SASL PLAIN over an established stream.
func authenticatePlain(t *Transport, username, password string) error {
	if err := t.Send(BuildSASLAuth(MechPlain, PlainInitial(username, password))); err != nil {
		return err
	}
	node, err := t.NextStanza()
	if err != nil {
		return err
	}
	if node.XMLName.Local != "success" {
		return &AuthError{Stage: "sasl", Detail: "PLAIN rejected: " + saslFailureDetail(node)}
	}
	return nil
}

// authenticateScramSHA1 runs the SCRAM-SHA-1 exchange over an
// established stream.
func authenticateScramSHA1(t *Transport, username, password string) error {
	sc, err := newScramClient(username, password, "")
	if err != nil {
		return err
	}
	if err := t.Send(BuildSASLAuth(MechScramSHA1, sc.clientFirst())); err != nil {
		return err
	}

	node, err := t.NextStanza()
	if err != nil {
		return err
	}
	if node.XMLName.Local != "challenge" {
		return &AuthError{Stage: "sasl", Detail: "expected challenge, got <" + node.XMLName.Local + ">: " + saslFailureDetail(node)}
	}
	clientFinal, err := sc.handleServerFirst(strings.TrimSpace(node.Text))
	if err != nil {
		return err
	}
	if err := t.Send(BuildSASLResponse(clientFinal)); err != nil {
		return err
	}

	node, err = t.NextStanza()
	if err != nil {
		return err
	}
	switch node.XMLName.Local {
	case "success":
		return sc.verifyServerFinal(strings.TrimSpace(node.Text))
	case "challenge":
		// Server sent the verifier as an extra challenge round.
		if err := sc.verifyServerFinal(strings.TrimSpace(node.Text)); err != nil {
			return err
		}
		if err := t.Send(BuildSASLResponse("")); err != nil {
			return err
		}
		node, err = t.NextStanza()
		if err != nil {
			return err
		}
		if node.XMLName.Local != "success" {
			return &AuthError{Stage: "sasl", Detail: "SCRAM rejected after verifier: " + saslFailureDetail(node)}
		}
		return nil
	default:
		return &AuthError{Stage: "sasl", Detail: "SCRAM rejected: " + saslFailureDetail(node)}
	}
}

func saslFailureDetail(node *Node) string {
	if node.XMLName.Local != "failure" {
		return node.XMLName.Local
	}
	for _, c := range node.Children {
		if c.XMLName.Local != "text" {
			return c.XMLName.Local
		}
	}
	return "failure"
}
