package main

import "github.com/accountsvc/apiserver/cmd"

func main() {
	cmd.Execute()
}
