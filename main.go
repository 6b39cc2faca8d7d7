package main

import "github.com/pliedpiper/KadenBot/cmd"

func main() {
	cmd.Execute()
}
