package main

import "github.com/frno10/ExpenseTracker-sub000/internal/commands"

func main() {
	commands.Execute()
}
