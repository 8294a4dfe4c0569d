// Command aigw runs the AILink Gateway: a policy-enforcing reverse proxy
// between AI agents and upstream LLM providers.
package main

import "github.com/ailink/gateway/cmd/aigw/cmd"

func main() {
	cmd.Execute()
}
