package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	sleipnirNet "sleipnir/internal/net"
)

// A minimal order entry client for poking a running server by hand.
func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the order entry server")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'nullify']")
	product := flag.String("product", "BTC-USD", "Product id")

	id := flag.Uint64("id", 0, "Order id (compulsory, unique per order)")
	userID := flag.Uint64("user", 1, "User id")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	tif := flag.String("tif", "GTC", "Time in force")
	price := flag.String("price", "", "Limit price, decimal string")
	size := flag.String("size", "", "Base size, decimal string")
	funds := flag.String("funds", "", "Quote funds, decimal string (market buys)")

	flag.Parse()

	if *id == 0 {
		fmt.Println("Error: -id is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	request := sleipnirNet.Request{
		Type:      *action,
		ProductID: *product,
		Order: sleipnirNet.OrderPayload{
			ID:          *id,
			UserID:      *userID,
			Side:        *sideStr,
			Type:        *typeStr,
			TimeInForce: *tif,
			Size:        *size,
			Funds:       *funds,
			Price:       *price,
		},
	}

	conn, err := net.DialTimeout("tcp", *serverAddr, 5*time.Second)
	if err != nil {
		fmt.Printf("Error: unable to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	raw, err := json.Marshal(request)
	if err != nil {
		fmt.Printf("Error: unable to encode request: %v\n", err)
		os.Exit(1)
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		fmt.Printf("Error: unable to send request: %v\n", err)
		os.Exit(1)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		fmt.Printf("Error: unable to read response: %v\n", err)
		os.Exit(1)
	}

	var response sleipnirNet.Response
	if err := json.Unmarshal([]byte(reply), &response); err != nil {
		fmt.Printf("Error: malformed response %q: %v\n", reply, err)
		os.Exit(1)
	}
	if response.Status != "ok" {
		fmt.Printf("Rejected: %s\n", response.Error)
		os.Exit(1)
	}
	fmt.Printf("Accepted order %d\n", response.OrderID)
}
