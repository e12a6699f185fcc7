package wfdb

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type buildLog struct {
	path      string
	name      string // package the log belongs to, e.g. gcc-13.2.0
	content   string
	canDelete bool
}

var (
	tuiApp          *tview.Application
	tuiLogs         []buildLog
	tuiActiveIdx    int
	tuiPrevIdx      int // Track previous index to detect tab switches
	tuiHeaderBox    *tview.TextView
	tuiLogView      *tview.TextView
	tuiFooterBox    *tview.TextView
	tuiUpdateChan   chan []buildLog
	tuiPrevContent  map[string]string // Track previous content per log path
	tuiShouldScroll bool              // Force scroll to end on next update
)

// runLogViewer shows the per-package build logs under <sources>/log in a
// full-screen viewer. Content refreshes on a short ticker so a build running
// in another terminal can be followed live.
func runLogViewer(sourcesDir string) int {
	logDir := filepath.Join(sourcesDir, "log")

	tuiUpdateChan = make(chan []buildLog, 10)
	tuiPrevContent = make(map[string]string)
	tuiPrevIdx = -1

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("wfdb Build Log Viewer")

	// SetDynamicColors(true) enables ANSI color support in the log pane
	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiLogView.SetBorder(true)

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	// Header (fixed) + log (flexible) + footer (fixed)
	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 4, 0, false)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			switchLog(-1)
			return nil
		case tcell.KeyRight:
			switchLog(1)
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 0 {
				tuiLogView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 10 {
				tuiLogView.ScrollTo(row-10, 0)
			} else {
				tuiLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'h':
				switchLog(-1)
				return nil
			case 'l':
				switchLog(1)
				return nil
			case 'd':
				if tuiActiveIdx < len(tuiLogs) {
					l := tuiLogs[tuiActiveIdx]
					if l.canDelete {
						os.Remove(l.path)
						go func() {
							tuiUpdateChan <- readAllBuildLogs(logDir)
						}()
					}
				}
				return nil
			case 'o':
				if tuiActiveIdx < len(tuiLogs) {
					cmd := exec.Command("code", tuiLogs[tuiActiveIdx].path)
					_ = cmd.Start()
				}
				return nil
			}
		}
		return event
	})

	// Poll the log directory while the viewer is open.
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			logs := readAllBuildLogs(logDir)
			select {
			case tuiUpdateChan <- logs:
			default:
			}
		}
	}()

	// Apply updates on the UI thread, keeping focus on the same log when the
	// list reorders under us.
	go func() {
		for logs := range tuiUpdateChan {
			var currentPath string
			if tuiActiveIdx < len(tuiLogs) {
				currentPath = tuiLogs[tuiActiveIdx].path
			}

			tuiLogs = logs

			if currentPath != "" {
				found := false
				for i, l := range tuiLogs {
					if l.path == currentPath {
						tuiActiveIdx = i
						found = true
						break
					}
				}
				if !found && tuiActiveIdx >= len(tuiLogs) && len(tuiLogs) > 0 {
					tuiActiveIdx = len(tuiLogs) - 1
				}
			}

			tuiApp.QueueUpdateDraw(func() {
				updateTUI()
			})
		}
	}()

	tuiApp.SetRoot(flex, true).SetFocus(tuiLogView)

	// Initial update - must happen after setting root
	tuiLogs = readAllBuildLogs(logDir)
	if len(tuiLogs) > 0 {
		tuiActiveIdx = 0
	}
	updateTUI()

	if err := tuiApp.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	return 0
}

// switchLog moves the active log index by delta, wrapping around.
func switchLog(delta int) {
	if len(tuiLogs) == 0 {
		return
	}
	tuiActiveIdx += delta
	if tuiActiveIdx < 0 {
		tuiActiveIdx = len(tuiLogs) - 1
	}
	if tuiActiveIdx >= len(tuiLogs) {
		tuiActiveIdx = 0
	}
	tuiShouldScroll = true
	updateTUI()
}

func updateTUI() {
	if tuiApp == nil || tuiHeaderBox == nil || tuiLogView == nil || tuiFooterBox == nil {
		return
	}

	// Header
	var headerText strings.Builder
	if len(tuiLogs) == 0 {
		headerText.WriteString("[gray]No build logs found[white]")
	} else if tuiActiveIdx < len(tuiLogs) {
		l := tuiLogs[tuiActiveIdx]
		titleText := fmt.Sprintf("Build Log %d/%d: %s", tuiActiveIdx+1, len(tuiLogs), l.name)
		if l.canDelete {
			titleText += " | [red]Press 'd' to delete this log[white]"
		}
		headerText.WriteString(fmt.Sprintf("[gray]%s[white]", titleText))
	} else {
		headerText.WriteString("[gray]No active log[white]")
	}
	tuiHeaderBox.SetText(headerText.String())

	// Log content
	if len(tuiLogs) == 0 {
		tuiLogView.SetText("No build log yet. Run 'wfdb build' to start a build.")
	} else if tuiActiveIdx < len(tuiLogs) {
		l := tuiLogs[tuiActiveIdx]
		prevContent, hadPrevContent := tuiPrevContent[l.path]

		switchedTabs := (tuiPrevIdx != tuiActiveIdx)
		if switchedTabs {
			tuiPrevIdx = tuiActiveIdx
		}

		// Only redraw when the content actually changed or we switched tabs
		if l.content != prevContent || switchedTabs {
			row, _ := tuiLogView.GetScrollOffset()

			// Check if we're pinned to the bottom before replacing content
			wasAtBottom := false
			if !switchedTabs && hadPrevContent {
				tuiLogView.ScrollTo(row+1, 0)
				newRow, _ := tuiLogView.GetScrollOffset()
				wasAtBottom = (newRow == row)
				tuiLogView.ScrollTo(row, 0)
			}

			tuiLogView.Clear()
			// ANSIWriter converts ANSI escape sequences to tview color tags
			ansiWriter := tview.ANSIWriter(tuiLogView)
			ansiWriter.Write([]byte(l.content))

			if switchedTabs || tuiShouldScroll {
				tuiLogView.ScrollToEnd()
				tuiShouldScroll = false
			} else if wasAtBottom {
				tuiLogView.ScrollToEnd()
			} else if hadPrevContent {
				prevLines := strings.Count(prevContent, "\n")
				newLines := strings.Count(l.content, "\n")
				if newLines > prevLines {
					// Content grew above us, keep the viewport steady
					tuiLogView.ScrollTo(row+newLines-prevLines, 0)
				} else {
					tuiLogView.ScrollTo(row, 0)
				}
			}

			tuiPrevContent[l.path] = l.content
		}
	} else {
		tuiLogView.SetText("")
	}

	// Footer
	footerSegments := []string{
		"Press 'q' or Ctrl+Q to quit",
		"← → (or h/l) to switch logs",
		"↑ ↓ to scroll",
		"Home/End to jump to start/end",
		"'o' to open in VS Code",
	}
	if len(tuiLogs) > 0 && tuiActiveIdx < len(tuiLogs) && tuiLogs[tuiActiveIdx].canDelete {
		footerSegments = append(footerSegments, "'d' to delete")
	}
	tuiFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", strings.Join(footerSegments, " | ")))
}

// readAllBuildLogs loads every per-package log, newest first.
func readAllBuildLogs(logDir string) []buildLog {
	paths, _ := filepath.Glob(filepath.Join(logDir, "*.log"))
	if len(paths) == 0 {
		return []buildLog{{name: "No logs", content: "No build log yet. Run 'wfdb build' to see logs here."}}
	}

	sort.Slice(paths, func(i, j int) bool {
		ai, err1 := os.Stat(paths[i])
		aj, err2 := os.Stat(paths[j])
		if err1 != nil || err2 != nil {
			return paths[i] > paths[j]
		}
		return ai.ModTime().After(aj.ModTime())
	})

	logs := make([]buildLog, 0, len(paths))
	for _, p := range paths {
		content := ""
		if data, err := os.ReadFile(p); err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		} else {
			content = string(data)
		}
		logs = append(logs, buildLog{
			path:      p,
			name:      strings.TrimSuffix(filepath.Base(p), ".log"),
			content:   content,
			canDelete: canDeleteLog(p),
		})
	}
	return logs
}

// canDeleteLog reports whether a log is safe to delete: untouched for five
// minutes, so never one a running build is still writing to.
func canDeleteLog(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) >= 5*time.Minute
}
