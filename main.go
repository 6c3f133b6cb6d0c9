// The main package for the site-search executable.
package main

import (
	"github.com/JakeFAU/site-search/cmd"
)

func main() {
	cmd.Execute()
}
