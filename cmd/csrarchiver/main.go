package main

import "github.com/JakeFAU/csr-report-archiver/cmd"

func main() {
	cmd.Execute()
}
