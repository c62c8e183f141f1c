// Package composer handles message body acquisition: reading a piped
// body from stdin, composing in the user's editor, and the final send
// confirmation prompt.
package composer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// fallbackEditor is used when neither VISUAL nor EDITOR is set.
const fallbackEditor = "vi"

// Composed is the result of an interactive editing session.
type Composed struct {
	Subject   string
	Body      string
	Cancelled bool
}

// ReadBody consumes the reader to EOF exactly once and returns the body
// text.
func ReadBody(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	return string(data), nil
}

// Compose opens the user's editor on a seeded draft and parses the
// result. An unchanged or empty draft cancels the send.
func Compose(subject string) (*Composed, error) {
	seed := Seed(subject)

	tmp, err := os.CreateTemp("", "tmail-*.eml")
	if err != nil {
		return nil, fmt.Errorf("failed to create draft file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.WriteString(seed); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write draft file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write draft file: %w", err)
	}

	if err := runEditor(path); err != nil {
		return nil, err
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read draft file: %w", err)
	}

	composed := Parse(string(edited))
	if string(edited) == seed {
		composed.Cancelled = true
	}
	return composed, nil
}

// Seed produces the draft template the editor opens on.
func Seed(subject string) string {
	return fmt.Sprintf("Subject: %s\n\n", subject)
}

// Parse splits an edited draft into subject and body. The draft format
// is a Subject header line, a blank line, then the body. Drafts with no
// body and no subject cancel the send.
func Parse(draft string) *Composed {
	subject := ""
	body := draft

	if strings.HasPrefix(draft, "Subject:") {
		if idx := strings.Index(draft, "\n"); idx >= 0 {
			subject = strings.TrimSpace(strings.TrimPrefix(draft[:idx], "Subject:"))
			body = strings.TrimPrefix(draft[idx+1:], "\n")
		} else {
			subject = strings.TrimSpace(strings.TrimPrefix(draft, "Subject:"))
			body = ""
		}
	}

	composed := &Composed{Subject: subject, Body: body}
	if subject == "" && strings.TrimSpace(body) == "" {
		composed.Cancelled = true
	}
	return composed
}

// Confirm prompts for a final yes/no before sending. Anything but an
// explicit yes declines.
func Confirm(r io.Reader, w io.Writer, recipients []string) bool {
	fmt.Fprintf(w, "Send to %s? [y/N] ", strings.Join(recipients, ", "))
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// runEditor spawns the user's editor attached to the terminal and waits
// for it to exit.
func runEditor(path string) error {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = fallbackEditor
	}

	cmd := exec.Command("sh", "-c", fmt.Sprintf("%s %q", editor, path))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %q failed: %w", editor, err)
	}
	return nil
}
