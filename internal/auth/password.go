// Package auth protects the camera viewer: argon2id password hashes,
// hidden password prompts and short-lived access tokens.
package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams are the recommended password hashing costs.
var DefaultParams = Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// HashPassword creates an argon2id hash of password with DefaultParams.
// Returns a string in the format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return HashPasswordWith(password, DefaultParams)
}

// HashPasswordWith creates an argon2id hash with explicit parameters.
func HashPasswordWith(password string, p Params) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks if the provided password matches the hash.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, salt, hash, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// ValidateHash reports whether encodedHash is a well-formed argon2id hash.
func ValidateHash(encodedHash string) error {
	_, _, _, err := decodeHash(encodedHash)
	return err
}

// decodeHash parses an encoded argon2id hash string.
func decodeHash(encodedHash string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return p, nil, nil, fmt.Errorf("invalid hash format: expected 6 parts, got %d", len(parts))
	}

	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("invalid hash algorithm: expected argon2id, got %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("invalid version format: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("invalid params format: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("invalid salt encoding: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("invalid hash encoding: %w", err)
	}
	if len(hash) == 0 {
		return p, nil, nil, errors.New("invalid hash: empty key")
	}

	p.KeyLen = uint32(len(hash))
	p.SaltLen = len(salt)
	return p, salt, hash, nil
}

// ErrEmptyPassword is returned when the user enters an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// ErrPasswordMismatch is returned when password confirmation doesn't match.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Prompter reads passwords from a terminal, or line by line when input
// is not a terminal.
type Prompter struct {
	in  *os.File
	out io.Writer
	// lines is used when in is not a terminal.
	lines *bufio.Reader
}

// NewPrompter creates a Prompter reading from in and writing prompts to
// out.
func NewPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// Prompt writes prompt and reads one password without echo.
func (p *Prompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if term.IsTerminal(int(p.in.Fd())) {
		password, err := term.ReadPassword(int(p.in.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	if p.lines == nil {
		p.lines = bufio.NewReader(p.in)
	}
	line, err := p.lines.ReadString('\n')
	fmt.Fprintln(p.out)
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// PromptAndConfirm prompts for a password twice and returns it if both
// entries match.
func (p *Prompter) PromptAndConfirm() (string, error) {
	password, err := p.Prompt("Enter password for the camera viewer: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", ErrEmptyPassword
	}

	confirm, err := p.Prompt("Confirm password: ")
	if err != nil {
		return "", err
	}

	if password != confirm {
		return "", ErrPasswordMismatch
	}

	return password, nil
}
