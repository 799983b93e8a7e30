// The main package for the evidence-crawler executable.
package main

import (
	"github.com/JakeFAU/evidence-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
