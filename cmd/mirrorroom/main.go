package main

import "github.com/bryanchriswhite/MirrorRoom/cmd/mirrorroom/commands"

func main() {
	commands.Execute()
}
