package dashboard

const Basics = `
Follow these rules when composing fleet dashboards.

Basics:
Dashboard Name: a descriptive name, e.g. "North depot utilisation".
Description: what questions the dashboard answers and for whom.
Sharing: set is_shared only when the dashboard is meant for the whole organisation.

Layout [Critical]:
- The grid has 12 columns by default. X and Y position a widget, W and H size it, all in grid units.
- X is 0-11, Y starts at 0 and grows downward.
- W and H are at least 2.
- X + W must not exceed the column count.
- Widgets must not overlap; leave positions out when adding and the next free slot is used.

Recommended sizes:
- KPI cards: W=3, H=2 (four per row)
- Gauges: W=3, H=3
- Line, area and bar charts: W=6, H=4
- Pie and donut charts: W=4, H=4
- Tables: W=12, H=6
- Maps: W=6, H=6

Workflow:
1. fleet_open_dashboard (or fleet_create_dashboard) selects the dashboard being edited.
2. Add, update, move or remove widgets; edits stay local.
3. fleet_save_dashboard persists metadata first, then every widget.
4. If save reports a partial failure, call fleet_save_dashboard again; saved widgets are not duplicated.
`
