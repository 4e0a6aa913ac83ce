package main

import "github.com/dj-oyu/rdk-x5_smart-door/door-monitor/cmd/door-monitor/cmd"

func main() {
	cmd.Execute()
}
