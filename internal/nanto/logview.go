package nanto

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
	"golang.org/x/term"
)

// runPager shows a slice of lines in a scrollable TUI when stdout is a
// terminal and the content does not fit on screen. Otherwise the lines are
// printed plainly.
func runPager(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(fd)

	if !isTTY {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	// Two lines are reserved for the border; if everything fits, skip the TUI.
	_, height, err := term.GetSize(fd)
	if err == nil && len(lines) <= height-2 {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)

	textView.SetBorder(true).SetTitle(" " + title + " ")

	ansiWriter := tview.ANSIWriter(textView)
	fmt.Fprint(ansiWriter, strings.Join(lines, "\n"))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Use ↑/↓, PgUp/PgDn, Home/End to scroll. Press 'q' or 'Esc' to quit.[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}

	return nil
}

// listCompileLogs returns the archived compile log filenames, oldest first.
// The timestamped names sort chronologically.
func listCompileLogs() ([]string, error) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".log.xz") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// viewBuildLog streams one archived compile log through the user's pager, or
// lists the available logs when name is empty. "latest" selects the newest.
func viewBuildLog(name string) error {
	logs, err := listCompileLogs()
	if err != nil {
		return err
	}

	if name == "" {
		if len(logs) == 0 {
			return fmt.Errorf("no compile logs in %s", logsDir)
		}
		var out []string
		for _, n := range logs {
			info, err := os.Stat(filepath.Join(logsDir, n))
			if err != nil {
				continue
			}
			out = append(out, fmt.Sprintf("%s  %10d  %s",
				info.ModTime().Format("2006-01-02 15:04"), info.Size(), n))
		}
		out = append(out, "", "Run 'nanto log latest' or 'nanto log <name>' to view one.")
		return runPager("Compile Logs", out)
	}

	var target string
	if name == "latest" {
		if len(logs) == 0 {
			return fmt.Errorf("no compile logs in %s", logsDir)
		}
		target = filepath.Join(logsDir, logs[len(logs)-1])
	} else {
		for _, c := range []string{name, name + ".xz", name + ".log.xz"} {
			p := c
			if !filepath.IsAbs(p) {
				p = filepath.Join(logsDir, c)
			}
			if fileExists(p) {
				target = p
				break
			}
		}
		if target == "" {
			return fmt.Errorf("no such compile log: %s", name)
		}
	}
	return streamLog(target)
}

func streamLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening log: %w", err)
	}
	defer f.Close()

	openReader := func() (io.Reader, error) {
		if strings.HasSuffix(path, ".xz") {
			return xz.NewReader(f)
		}
		return f, nil
	}

	r, err := openReader()
	if err != nil {
		return fmt.Errorf("error creating xz reader: %w", err)
	}

	if !stdoutIsTerminal() {
		_, err = io.Copy(os.Stdout, r)
		return err
	}

	pager := os.Getenv("PAGER")
	var args []string
	if pager == "" || pager == "less" {
		pager = "less"
		args = []string{"-r"}
	}

	cmd := exec.Command(pager, args...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		// Fall back to a plain dump if the pager is unusable.
		if _, serr := f.Seek(0, 0); serr != nil {
			return err
		}
		r, err = openReader()
		if err != nil {
			return err
		}
		_, err = io.Copy(os.Stdout, r)
		return err
	}
	return nil
}
