// The main package for the graild executable.
package main

import "github.com/JakeFAU/grail/cmd"

func main() {
	cmd.Execute()
}
