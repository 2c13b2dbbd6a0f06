package main

import (
	"os"
	"os/exec"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// openEditor hands a cell's pending value to $EDITOR and reports the edited
// text back as an editorFinishedMsg.
func openEditor(k CellKey, value string) tea.Cmd {
	f, err := os.CreateTemp("", "menudash-*.txt")
	if err != nil {
		return func() tea.Msg { return editorFinishedMsg{key: k, err: err} }
	}
	// Closed before the editor opens it.
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		os.Remove(f.Name())
		return func() tea.Msg { return editorFinishedMsg{key: k, err: err} }
	}

	c := exec.Command(findEditor(), f.Name())
	return tea.ExecProcess(c, func(err error) tea.Msg {
		defer os.Remove(f.Name())
		if err != nil {
			return editorFinishedMsg{key: k, err: err}
		}

		content, readErr := os.ReadFile(f.Name())
		if readErr != nil {
			return editorFinishedMsg{key: k, err: readErr}
		}
		// editors usually append a final newline
		return editorFinishedMsg{key: k, value: strings.TrimRight(string(content), "\n")}
	})
}

func findEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	for _, e := range []string{"nvim", "vim", "nano", "vi"} {
		if _, err := exec.LookPath(e); err == nil {
			return e
		}
	}
	return "vi"
}
