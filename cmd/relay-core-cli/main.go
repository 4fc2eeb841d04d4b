package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/internal"
	"github.com/xKoRx/relay/utils"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "serve":
		runServe(os.Args[2:])
	case "signal":
		runSignal(os.Args[2:])
	case "poll":
		runPoll(os.Args[2:])
	case "pairing":
		runPairing(os.Args[2:])
	case "mapping":
		runMapping(os.Args[2:])
	case "mailbox":
		runMailbox(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "comando desconocido: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `relay-core-cli - herramientas operativas para Relay Core

Uso:
  relay-core-cli serve
  relay-core-cli signal --key <subscription_key> --json <signal> [--secret <s>]
  relay-core-cli poll --account <id> [--limit <n>] [--ack] [--secret <s>]
  relay-core-cli pairing list [--json]
  relay-core-cli pairing upsert --master <id> --slave <id> --key <subscription_key> [--settings <json>]
  relay-core-cli mapping set --source <symbol> --target <symbol>
  relay-core-cli mapping remove --source <symbol>
  relay-core-cli mailbox stats [--json]
  relay-core-cli mailbox clear --account <id>

Comandos:
  serve     Arranca el núcleo y bloquea hasta SIGINT/SIGTERM.
  signal    Inyecta una señal de master y ejecuta el fan-out.
  poll      Consume los comandos pendientes de un slave.
  pairing   Administra pairings master↔slave.
  mapping   Administra mapeos custom globales de símbolos.
  mailbox   Inspecciona o vacía mailboxes de slaves.
`
	fmt.Fprintln(os.Stderr, usage)
}

// newCore inicializa el Core con la configuración de ETCD.
func newCore(ctx context.Context) *internal.Core {
	cfg, err := internal.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error cargando configuración: %v\n", err)
		os.Exit(1)
	}

	core, err := internal.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inicializando core: %v\n", err)
		os.Exit(1)
	}
	return core
}

func shutdown(core *internal.Core) {
	if err := core.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "error cerrando core: %v\n", err)
	}
}

// ---------- serve ----------

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	core := newCore(ctx)
	defer shutdown(core)

	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(os.Stderr, "señal recibida (%s), cerrando\n", sig)
}

// ---------- signal ----------

func runSignal(args []string) {
	fs := flag.NewFlagSet("signal", flag.ExitOnError)
	key := fs.String("key", "", "Subscription key de la señal")
	payload := fs.String("json", "", "Señal en JSON")
	secret := fs.String("secret", "", "Shared secret del terminal")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *key == "" || *payload == "" {
		fmt.Fprintln(os.Stderr, "--key y --json son requeridos")
		fs.Usage()
		os.Exit(1)
	}

	var sig domain.Signal
	if err := utils.FromJSONString(*payload, &sig); err != nil {
		fmt.Fprintf(os.Stderr, "señal inválida: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	result, err := core.HandleSignal(ctx, *key, *secret, &sig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error procesando señal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(utils.ToJSONString(result))
}

// ---------- poll ----------

func runPoll(args []string) {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	accountID := fs.String("account", "", "Cuenta slave que consume")
	limit := fs.Int("limit", 0, "Máximo de comandos a retornar (0 = todos)")
	ack := fs.Bool("ack", false, "Confirmar los comandos entregados")
	secret := fs.String("secret", "", "Shared secret del terminal")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *accountID == "" {
		fmt.Fprintln(os.Stderr, "--account es requerido")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	commands, err := core.PollCommands(ctx, *secret, *accountID, *limit, *ack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error consultando mailbox: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(utils.ToJSONString(commands))
}

// ---------- pairing ----------

func runPairing(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		pairingList(args[1:])
	case "upsert":
		pairingUpsert(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "subcomando pairing desconocido: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func pairingList(args []string) {
	fs := flag.NewFlagSet("pairing list", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Imprimir el resultado en formato JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	pairings := core.ListPairings(ctx)
	if *jsonOutput {
		fmt.Println(utils.ToJSONString(pairings))
		return
	}

	for _, p := range pairings {
		fmt.Printf("%s  %s → %s  key=%s  status=%s\n",
			p.PairingID, p.MasterAccount, p.SlaveAccount, p.SubscriptionKey, p.Status)
	}
	if len(pairings) == 0 {
		fmt.Println("sin pairings")
	}
}

func pairingUpsert(args []string) {
	fs := flag.NewFlagSet("pairing upsert", flag.ExitOnError)
	master := fs.String("master", "", "Cuenta master")
	slave := fs.String("slave", "", "Cuenta slave")
	key := fs.String("key", "", "Subscription key")
	settingsJSON := fs.String("settings", "", "Settings del pairing en JSON (opcional)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *master == "" || *slave == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "--master, --slave y --key son requeridos")
		fs.Usage()
		os.Exit(1)
	}

	pairing := &domain.Pairing{
		MasterAccount:   *master,
		SlaveAccount:    *slave,
		SubscriptionKey: *key,
	}
	if *settingsJSON != "" {
		var raw map[string]interface{}
		if err := utils.FromJSONString(*settingsJSON, &raw); err != nil {
			fmt.Fprintf(os.Stderr, "settings inválidos: %v\n", err)
			os.Exit(1)
		}
		pairing.Settings = domain.ParsePairingSettings(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	if err := core.UpsertPairing(ctx, pairing); err != nil {
		fmt.Fprintf(os.Stderr, "error guardando pairing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pairing %s guardado\n", pairing.PairingID)
}

// ---------- mapping ----------

func runMapping(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "set":
		mappingSet(args[1:])
	case "remove":
		mappingRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "subcomando mapping desconocido: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func mappingSet(args []string) {
	fs := flag.NewFlagSet("mapping set", flag.ExitOnError)
	source := fs.String("source", "", "Símbolo origen")
	target := fs.String("target", "", "Símbolo destino")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *source == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "--source y --target son requeridos")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	if err := core.SetCustomMapping(ctx, *source, *target); err != nil {
		fmt.Fprintf(os.Stderr, "error guardando mapeo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mapeo %s → %s guardado\n", *source, *target)
}

func mappingRemove(args []string) {
	fs := flag.NewFlagSet("mapping remove", flag.ExitOnError)
	source := fs.String("source", "", "Símbolo origen")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *source == "" {
		fmt.Fprintln(os.Stderr, "--source es requerido")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	if core.RemoveCustomMapping(ctx, *source) {
		fmt.Printf("mapeo %s eliminado\n", *source)
		return
	}
	fmt.Printf("no existe mapeo para %s\n", *source)
}

// ---------- mailbox ----------

func runMailbox(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "stats":
		mailboxStats(args[1:])
	case "clear":
		mailboxClear(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "subcomando mailbox desconocido: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func mailboxStats(args []string) {
	fs := flag.NewFlagSet("mailbox stats", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Imprimir el resultado en formato JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	stats := core.MailboxStats()
	if *jsonOutput {
		fmt.Println(utils.ToJSONString(stats))
		return
	}

	lines := []string{
		fmt.Sprintf("Cuentas con mailbox: %d", stats.Accounts),
		fmt.Sprintf("Comandos pendientes: %d", stats.TotalCommands),
	}
	for account, size := range stats.PerAccount {
		lines = append(lines, fmt.Sprintf("  %s: %d", account, size))
	}
	fmt.Println(strings.Join(lines, "\n"))
}

func mailboxClear(args []string) {
	fs := flag.NewFlagSet("mailbox clear", flag.ExitOnError)
	accountID := fs.String("account", "", "Cuenta slave cuyo mailbox se vacía")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	if *accountID == "" {
		fmt.Fprintln(os.Stderr, "--account es requerido")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	core := newCore(ctx)
	defer shutdown(core)
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error arrancando core: %v\n", err)
		os.Exit(1)
	}

	cleared := core.ClearMailbox(*accountID)
	fmt.Printf("mailbox de %s vaciado (%d comandos)\n", *accountID, cleared)
}
