package wfdb

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// interactiveMu ensures only one interactive prompt reads stdin at a time.
var interactiveMu sync.Mutex

// askForConfirmation prints a colored [Y/n] prompt and reads the answer.
// Empty input means yes; EOF or a read error means no.
func askForConfirmation(p colorPrinter, format string, a ...any) bool {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(os.Stdin)
	prompt := fmt.Sprintf("%s [Y/n]: ", fmt.Sprintf(format, a...))

	for {
		cPrintf(p, "%s", prompt)
		response, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		response = strings.ToLower(strings.TrimSpace(response))

		switch response {
		case "y", "yes", "":
			return true
		case "n", "no":
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}
