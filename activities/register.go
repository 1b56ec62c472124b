package activities

import (
	"context"
	"database/sql"

	"github.com/nats-io/nats.go"

	"github.com/andrius0/pancake"
)

// Deps holds the external collaborators shared by activity handlers.
type Deps struct {
	// Analyzer resolves customer orders. Defaults to the recipe book.
	Analyzer Analyzer

	// InventoryDB backs the inventory and kitchen activities.
	InventoryDB *sql.DB

	// InventoryTable defaults to DefaultInventoryTable.
	InventoryTable string
}

func (d Deps) analyzer() Analyzer {
	if d.Analyzer != nil {
		return d.Analyzer
	}
	return NewRecipeAnalyzer()
}

// RegisterLocal serves all four activity queues on an in-process
// dispatcher, one worker goroutine per queue.
func RegisterLocal(ctx context.Context, dispatcher *pancake.LocalDispatcher, deps Deps) {
	dispatcher.ServeQueue(ctx, pancake.QueueAnalyze, 1, map[string]pancake.ActivityFunc{
		pancake.ActivityAnalyzeOrder: AnalyzeHandler(deps.analyzer()),
	})
	dispatcher.ServeQueue(ctx, pancake.QueueInventory, 1, map[string]pancake.ActivityFunc{
		pancake.ActivityInventoryCheck: InventoryHandler(NewInventoryChecker(deps.InventoryDB, deps.InventoryTable)),
	})
	dispatcher.ServeQueue(ctx, pancake.QueueKitchen, 1, map[string]pancake.ActivityFunc{
		pancake.ActivityExecuteOrder: KitchenHandler(NewKitchen(deps.InventoryDB, deps.InventoryTable)),
	})
	dispatcher.ServeQueue(ctx, pancake.QueueNotification, 1, map[string]pancake.ActivityFunc{
		pancake.ActivityNotify: NotifyHandler(NewNotifier()),
	})
}

// NewWorkers builds one NATS worker per activity queue. Each can be
// started in its own goroutine or process; workers on the same queue
// form a load-balanced pool.
func NewWorkers(nc *nats.Conn, deps Deps) []*pancake.Worker {
	analyze := pancake.NewWorker(nc, pancake.QueueAnalyze)
	analyze.Register(pancake.ActivityAnalyzeOrder, AnalyzeHandler(deps.analyzer()))

	inventory := pancake.NewWorker(nc, pancake.QueueInventory)
	inventory.Register(pancake.ActivityInventoryCheck,
		InventoryHandler(NewInventoryChecker(deps.InventoryDB, deps.InventoryTable)))

	kitchen := pancake.NewWorker(nc, pancake.QueueKitchen)
	kitchen.Register(pancake.ActivityExecuteOrder,
		KitchenHandler(NewKitchen(deps.InventoryDB, deps.InventoryTable)))

	notify := pancake.NewWorker(nc, pancake.QueueNotification)
	notify.Register(pancake.ActivityNotify, NotifyHandler(NewNotifier()))

	return []*pancake.Worker{analyze, inventory, kitchen, notify}
}
