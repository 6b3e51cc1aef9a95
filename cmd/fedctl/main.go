package main

import (
	"go.duodoo.tech/fedlogin/cmd/fedctl/cmd"
)

func main() {
	cmd.Execute()
}
