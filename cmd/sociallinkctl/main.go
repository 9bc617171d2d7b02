package main

import "go.pilab.hu/sociallink/cmd/sociallinkctl/cmd"

func main() {
	cmd.Execute()
}
