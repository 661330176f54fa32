package main

import "github.com/samogod/bookrnn/cmd"

func main() {
	cmd.Execute()
}
