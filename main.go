package main

import "github.com/modelpull/modelpull/cmd"

func main() {
	cmd.Execute()
}
