package main

import (
	"modcatalog/cmd/modcatalog/commands"
	"modcatalog/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
