// Command tuindex indexes C translation units.
package main

import "github.com/mvp-joe/tuindex/internal/cli"

func main() {
	cli.Execute()
}
