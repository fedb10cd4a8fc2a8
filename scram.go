package pgcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/wirepg/pgcore/protocol"
)

// scramClient drives one SCRAM-SHA-256 SASL exchange (RFC 5802, RFC 7677)
// against a backend that sent AuthenticationSASL. gs2Header is fixed to
// "n,,": no channel binding, no authorization identity.
type scramClient struct {
	user, password string
	clientNonce    string
	clientFirstBare string
	saltedPassword  []byte
	authMessage     string
}

const gs2Header = "n,,"

func newScramClient(user, password string) (*scramClient, error) {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("scram: generating client nonce: %w", err)
	}
	c := &scramClient{
		user:        user,
		password:    password,
		clientNonce: base64.StdEncoding.EncodeToString(nonceBytes),
	}
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", scramEscapeUser(user), c.clientNonce)
	return c, nil
}

// clientFirstMessage is the gs2-header-prefixed message sent as the SASL
// initial response.
func (c *scramClient) clientFirstMessage() []byte {
	return []byte(gs2Header + c.clientFirstBare)
}

// handleServerFirst parses the AuthenticationSASLContinue payload and
// returns the client-final-message to send as the SASL response.
func (c *scramClient) handleServerFirst(serverFirst []byte) ([]byte, error) {
	nonce, salt, iterations, err := parseServerFirst(string(serverFirst))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(nonce, c.clientNonce) {
		return nil, fmt.Errorf("scram: server nonce does not extend client nonce")
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, nonce)

	c.authMessage = c.clientFirstBare + "," + string(serverFirst) + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

// verifyServerFinal checks the AuthenticationSASLFinal payload's signature.
func (c *scramClient) verifyServerFinal(serverFinal []byte) error {
	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	expected := "v=" + base64.StdEncoding.EncodeToString(hmacSHA256(serverKey, []byte(c.authMessage)))
	if string(serverFinal) != expected {
		return fmt.Errorf("scram: server signature mismatch")
	}
	return nil
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("scram: decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("scram: parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("scram: incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// scramEscapeUser applies the RFC 5802 saslname escaping rules.
func scramEscapeUser(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// parseSASLMechanisms parses the null-separated mechanism list carried in
// an AuthenticationSASL payload (after the leading subtype int32, which the
// protocol package has already stripped into AuthMessage.Data).
func parseSASLMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		i := 0
		for i < len(data) && data[i] != 0 {
			i++
		}
		if i > 0 {
			mechs = append(mechs, string(data[:i]))
		}
		if i >= len(data) {
			break
		}
		data = data[i+1:]
	}
	return mechs
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

// runSCRAM drives the full client-first/server-first/client-final exchange
// over an already-connected innerConn, starting from the AuthenticationSASL
// message the caller already decoded.
func (c *innerConn) runSCRAM(user, password string, sasl protocol.AuthMessage) error {
	mechs := parseSASLMechanisms(sasl.Data)
	if !containsMechanism(mechs, "SCRAM-SHA-256") {
		return fmt.Errorf("pgcore: server does not offer SCRAM-SHA-256, offered %v", mechs)
	}

	client, err := newScramClient(user, password)
	if err != nil {
		return err
	}

	if err := c.send(protocol.SASLInitialResponse("SCRAM-SHA-256", client.clientFirstMessage())); err != nil {
		return err
	}

	cont, err := c.expectAuth(protocol.AuthSASLContinue)
	if err != nil {
		return err
	}
	final, err := client.handleServerFirst(cont.Data)
	if err != nil {
		return err
	}

	if err := c.send(protocol.SASLResponse(final)); err != nil {
		return err
	}

	done, err := c.expectAuth(protocol.AuthSASLFinal)
	if err != nil {
		return err
	}
	return client.verifyServerFinal(done.Data)
}
