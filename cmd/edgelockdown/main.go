// Command edgelockdown toggles an IP-allowlist lockdown on remote,
// versioned access-control policy documents.
package main

import "github.com/Edge-Lockdown/edgelockdown/cmd/edgelockdown/cmd"

func main() {
	cmd.Execute()
}
