// The main package for the breeder-harvester executable.
package main

import (
	"github.com/JakeFAU/breeder-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
