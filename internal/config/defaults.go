package config

// ExampleTOML is a commented starting configuration written by `trainsession init`
const ExampleTOML = `# Text-format training data. Each line is "seqId |field values |# comment".
[data]
train_file = "data/train.ctf"
cv_file = "data/cv.ctf"
epoch_mode = "sweep" # sweep, infinite or samples

[[data.streams]]
name = "features"
field = "S0"
dim = 69
sparse = true

[[data.streams]]
name = "labels"
field = "S1"
dim = 69
sparse = true

[data.inputs]
features = "features"
labels = "labels"

[training]
minibatch_size = [4]
learning_rate = [0.3, 0.2, 0.1, 0.0]
schedule_epoch_size = 25
max_samples = 60
label_input = "labels"
label_dim = 69
device = "cpu"

[checkpoint]
filename = "model"
frequency = 35
preserve_all = true

[cross_validation]
frequency = 20
minibatch_size = 2

[progress]
frequency = 10
update_frequency = 1
updates_per_second = 2
show_bar = true

[metrics]
listen_addr = ""

[huggingface]
repo_id = ""
`
