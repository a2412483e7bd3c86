package main

import "github.com/tasktrack-io/tasktrack/services/tracker/cli"

func main() {
	cli.Execute()
}
