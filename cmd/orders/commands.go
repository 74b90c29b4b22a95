package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/di"
	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error
}

var commands = []command{
	{name: "checkout", summary: "place an order from a JSON checkout request (-f file, default stdin)", run: runCheckout},
	{name: "one-click", summary: "place an order from a JSON one-click request using the saved profile", run: runOneClick},
	{name: "get", summary: "print one order (-id)", run: runGet},
	{name: "list", summary: "list a merchant's orders, newest first (-merchant, -page-size, -page-token)", run: runList},
	{name: "transition", summary: "move an order to another status (-id, -status, -expected-version, -reason)", run: runTransition},
	{name: "reconcile", summary: "settle pending payments (-id for one order, -loop to keep sweeping)", run: runReconcile},
	{name: "health", summary: "probe the configured backing services", run: runHealth},
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: orders <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-11s %s\n", cmd.name, cmd.summary)
	}
}

// errUsage marks flag and argument errors so they exit with status 2.
var errUsage = errors.New("usage")

type app struct {
	services di.Services
	health   *repositories.DependencyProber
	interval time.Duration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) execute(ctx context.Context, cmd command, args []string) int {
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	if err := cmd.run(ctx, a, fs, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(a.stderr, "orders %s: %v\n", cmd.name, err)
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return nil
}

func runCheckout(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	file := fs.String("f", "-", "request file, - for stdin")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var req services.CheckoutRequest
	if err := a.decodeRequest(*file, &req); err != nil {
		return err
	}
	result, err := a.services.Checkout.Checkout(ctx, req)
	return a.printCheckout(result, err)
}

func runOneClick(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	file := fs.String("f", "-", "request file, - for stdin")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var req services.OneClickRequest
	if err := a.decodeRequest(*file, &req); err != nil {
		return err
	}
	result, err := a.services.Checkout.OneClickPurchase(ctx, req)
	return a.printCheckout(result, err)
}

func runGet(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "order id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("%w: -id is required", errUsage)
	}
	order, err := a.services.Orders.GetOrder(ctx, *id)
	if err != nil {
		return err
	}
	return a.print(order.Snapshot())
}

func runList(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	merchant := fs.String("merchant", "", "merchant id")
	size := fs.Int("page-size", 20, "orders per page")
	token := fs.String("page-token", "", "token from a previous page")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*merchant) == "" {
		return fmt.Errorf("%w: -merchant is required", errUsage)
	}
	page, err := a.services.Orders.ListMerchantOrders(ctx, *merchant, domain.Pagination{PageSize: *size, PageToken: *token})
	if err != nil {
		return err
	}
	out := listOutput{Orders: make([]domain.OrderSnapshot, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		out.Orders = append(out.Orders, order.Snapshot())
	}
	return a.print(out)
}

func runTransition(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "order id")
	status := fs.String("status", "", "target status, e.g. SHIPPED")
	expected := fs.Int64("expected-version", -1, "reject the change unless the order is at this version")
	reason := fs.String("reason", "", "free-form reason recorded in the log")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*status) == "" {
		return fmt.Errorf("%w: -id and -status are required", errUsage)
	}
	cmd := services.TransitionCommand{
		OrderID:      *id,
		TargetStatus: domain.OrderStatus(*status),
		Reason:       *reason,
	}
	if *expected >= 0 {
		cmd.ExpectedVersion = expected
	}
	order, err := a.services.Orders.TransitionStatus(ctx, cmd)
	if err != nil {
		return err
	}
	return a.print(order.Snapshot())
}

func runReconcile(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id := fs.String("id", "", "reconcile a single order")
	loop := fs.Bool("loop", false, "sweep repeatedly until interrupted")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id != "" {
		if *loop {
			return fmt.Errorf("%w: -id and -loop are mutually exclusive", errUsage)
		}
		result, err := a.services.Orders.ReconcilePayment(ctx, *id)
		if err != nil {
			return err
		}
		return a.print(reconcileOutput{
			Order:   result.Order.Snapshot(),
			Payment: newPaymentOutput(result.Payment),
			Changed: result.Changed,
		})
	}
	if *loop {
		err := a.services.Reconciler.Run(ctx, a.interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	report, err := a.services.Reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	return a.print(sweepOutput(report))
}

func runHealth(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.health == nil {
		return errors.New("no dependency checks configured")
	}
	report := a.health.Probe(ctx)
	if err := a.print(report); err != nil {
		return err
	}
	if report.Status == repositories.HealthStatusError {
		return errors.New("one or more dependencies are unavailable")
	}
	return nil
}

func (a *app) decodeRequest(path string, dst any) error {
	var r io.Reader = a.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode request: %v", errUsage, err)
	}
	return nil
}

// printCheckout prints whatever the attempt produced. A failure after the order
// was persisted still prints the order id so the caller can follow up.
func (a *app) printCheckout(result services.CheckoutResult, err error) error {
	if err != nil {
		var checkoutErr *services.CheckoutError
		if errors.As(err, &checkoutErr) && checkoutErr.Persisted {
			_ = a.print(checkoutFailureOutput{OrderID: checkoutErr.OrderID, Stage: string(checkoutErr.Stage), Error: err.Error()})
		}
		return err
	}
	return a.print(checkoutOutput{
		Order:    result.Order.Snapshot(),
		Payment:  newPaymentOutput(result.Payment),
		Totals:   result.Totals,
		Shipping: result.Shipping,
	})
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type checkoutOutput struct {
	Order    domain.OrderSnapshot    `json:"order"`
	Payment  paymentOutput           `json:"payment"`
	Totals   domain.CalculatedTotals `json:"totals"`
	Shipping services.ShippingOption `json:"shipping"`
}

type checkoutFailureOutput struct {
	OrderID string `json:"orderId"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

type paymentOutput struct {
	Provider      string `json:"provider,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty"`
}

func newPaymentOutput(r payments.PaymentResult) paymentOutput {
	return paymentOutput{
		Provider:      r.Provider,
		TransactionID: r.TransactionID,
		Status:        string(r.Status),
		ErrorMessage:  r.ErrorMessage,
		ClientSecret:  r.ClientSecret,
	}
}

type listOutput struct {
	Orders        []domain.OrderSnapshot `json:"orders"`
	NextPageToken string                 `json:"nextPageToken,omitempty"`
}

type reconcileOutput struct {
	Order   domain.OrderSnapshot `json:"order"`
	Payment paymentOutput        `json:"payment"`
	Changed bool                 `json:"changed"`
}

type sweepOutput struct {
	Scanned  int `json:"scanned"`
	Settled  int `json:"settled"`
	Pending  int `json:"pending"`
	Failures int `json:"failures"`
}
