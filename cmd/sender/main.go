// Command sender is an interactive FIX initiator for driving the gateway
// from a terminal. Commands on stdin:
//
//	order <clOrdId> <symbol> <side> <qty> [price]
//	cancel <clOrdId> <origClOrdId> <symbol> <side>
//	quit
//
// A missing price submits a market order.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	filestore "github.com/quickfixgo/quickfix/store/file"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

type senderApp struct {
	sessionID atomic.Value
	loggedOn  atomic.Bool
}

func (a *senderApp) OnCreate(sessionID quickfix.SessionID) {}

func (a *senderApp) OnLogon(sessionID quickfix.SessionID) {
	a.sessionID.Store(sessionID)
	a.loggedOn.Store(true)
	logs.Infof("logged on: %s", sessionID.String())
}

func (a *senderApp) OnLogout(sessionID quickfix.SessionID) {
	a.loggedOn.Store(false)
	logs.Infof("logged out: %s", sessionID.String())
}

func (a *senderApp) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

func (a *senderApp) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *senderApp) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

func (a *senderApp) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	fmt.Printf("<< %s\n", msg.String())
	return nil
}

func (a *senderApp) session() (quickfix.SessionID, bool) {
	if !a.loggedOn.Load() {
		return quickfix.SessionID{}, false
	}
	sessionID, ok := a.sessionID.Load().(quickfix.SessionID)
	return sessionID, ok
}

func main() {
	cfgPath := flag.String("cfg", "config/initiator.cfg", "FIX session settings file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		logs.Errorf("sender failed: %v", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	settingsFile, err := os.Open(cfgPath)
	if err != nil {
		return err
	}
	settings, err := quickfix.ParseSettings(settingsFile)
	settingsFile.Close()
	if err != nil {
		return err
	}

	app := &senderApp{}
	initiator, err := quickfix.NewInitiator(
		app,
		filestore.NewStoreFactory(settings),
		settings,
		quickfix.NewScreenLogFactory(),
	)
	if err != nil {
		return err
	}
	if err := initiator.Start(); err != nil {
		return err
	}
	defer initiator.Stop()

	fmt.Println("commands: order <clOrdId> <symbol> <side> <qty> [price] | cancel <clOrdId> <origClOrdId> <symbol> <side> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "order":
			if err := sendOrder(app, fields[1:]); err != nil {
				fmt.Println("error:", err)
			}
		case "cancel":
			if err := sendCancel(app, fields[1:]); err != nil {
				fmt.Println("error:", err)
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
	return scanner.Err()
}

func sendOrder(app *senderApp, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: order <clOrdId> <symbol> <side> <qty> [price]")
	}
	sessionID, ok := app.session()
	if !ok {
		return fmt.Errorf("not logged on")
	}

	side, err := parseSide(args[2])
	if err != nil {
		return err
	}
	qty, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("bad qty: %w", err)
	}

	ordType := enum.OrdType_MARKET
	var price float64
	hasPrice := len(args) > 4
	if hasPrice {
		price, err = strconv.ParseFloat(args[4], 64)
		if err != nil {
			return fmt.Errorf("bad price: %w", err)
		}
		ordType = enum.OrdType_LIMIT
	}

	order := newordersingle.New(
		field.NewClOrdID(args[0]),
		field.NewSide(side),
		field.NewTransactTime(time.Now().UTC()),
		field.NewOrdType(ordType),
	)
	order.SetSymbol(args[1])
	order.SetOrderQty(decimal.NewFromInt(int64(qty)), 0)
	if hasPrice {
		order.SetPrice(decimal.NewFromFloat(price), 2)
	}
	return quickfix.SendToTarget(order, sessionID)
}

func sendCancel(app *senderApp, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: cancel <clOrdId> <origClOrdId> <symbol> <side>")
	}
	sessionID, ok := app.session()
	if !ok {
		return fmt.Errorf("not logged on")
	}

	side, err := parseSide(args[3])
	if err != nil {
		return err
	}
	cancel := ordercancelrequest.New(
		field.NewOrigClOrdID(args[1]),
		field.NewClOrdID(args[0]),
		field.NewSide(side),
		field.NewTransactTime(time.Now().UTC()),
	)
	cancel.SetSymbol(args[2])
	return quickfix.SendToTarget(cancel, sessionID)
}

func parseSide(raw string) (enum.Side, error) {
	switch strings.ToLower(raw) {
	case "1", "buy":
		return enum.Side_BUY, nil
	case "2", "sell":
		return enum.Side_SELL, nil
	default:
		return "", fmt.Errorf("bad side %q (use buy/sell)", raw)
	}
}
