// cmd/bibliotheca/main.go
package main

import "bibliotheca/cmd/bibliotheca/commands"

func main() {
	commands.Execute()
}
