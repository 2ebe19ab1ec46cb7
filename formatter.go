package storyloom

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// NodeFormatter renders node progress for interactive runs.
type NodeFormatter interface {
	PrintNodeStart(node string)
	PrintNodeDone(node string, duration time.Duration)
	PrintNodeError(node string, err error)
}

// ConsoleFormatter writes colorized progress lines to stdout.
type ConsoleFormatter struct{}

func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{}
}

func (*ConsoleFormatter) PrintNodeStart(node string) {
	fmt.Printf("%s %s\n", color.CyanString("▸"), node)
}

func (*ConsoleFormatter) PrintNodeDone(node string, duration time.Duration) {
	fmt.Printf("%s %s %s\n", color.GreenString("✔"), node,
		color.New(color.Faint).Sprintf("(%s)", duration.Round(time.Millisecond)))
}

func (*ConsoleFormatter) PrintNodeError(node string, err error) {
	fmt.Printf("%s %s: %v\n", color.RedString("✘"), node, err)
}
