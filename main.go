package main

import "github.com/memovia/callkeeper/cmd"

func main() {
	cmd.Execute()
}
