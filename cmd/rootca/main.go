// Command rootca mirrors the Mozilla root CA feed as a signed PKCS#7 bundle.
package main

import "github.com/princespaghetti/rootca/internal/cli"

func main() {
	cli.Execute()
}
