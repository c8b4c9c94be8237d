// amikeeper - AMI backup lifecycle manager
// Back up. Expire. Report.
package main

func main() {
	Execute()
}
