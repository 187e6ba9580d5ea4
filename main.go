package main

import (
	"fmt"

	"github.com/webitel/device-gateway-service/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
