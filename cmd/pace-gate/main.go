package main

import "github.com/pace-erp/pace-gate/cmd/pace-gate/cmd"

func main() {
	cmd.Execute()
}
