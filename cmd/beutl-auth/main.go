package main

import "github.com/b-editor/beutl-auth/cmd/beutl-auth/cmd"

func main() {
	cmd.Execute()
}
